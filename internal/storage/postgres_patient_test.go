package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

func TestUpsertPatient_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`INSERT INTO "patients" .*ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertPatient(ctx, model.Patient{
		ClinicID:    testClinicID,
		PatientID:   "pat-42",
		PhoneNumber: "5511999990000",
		Name:        "Joao Souza",
	})
	assert.NoError(t, err)
}

func TestUpsertPatient_ClinicMismatch(t *testing.T) {
	repo, _, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	err := repo.UpsertPatient(ctx, model.Patient{ClinicID: "other-clinic", PatientID: "pat-42"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestDeletePatient_MissingRowIsNotAnError(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`DELETE FROM "patients"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeletePatient(ctx, "pat-missing")
	assert.NoError(t, err)
}

func TestIsPatientPhone(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "patients"`).
		WithArgs(testClinicID, "5511999990000").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	known, err := repo.IsPatientPhone(ctx, "5511999990000")
	assert.NoError(t, err)
	assert.True(t, known)
}

func TestIsPatientPhone_EmptyPhone(t *testing.T) {
	repo, _, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	known, err := repo.IsPatientPhone(ctx, "")
	assert.NoError(t, err)
	assert.False(t, known)
}
