package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

func leadRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "clinic_id", "phone_number", "status", "source"})
}

func TestFindLeadByPhone_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE clinic_id = \$1 AND phone_number = \$2`).
		WithArgs(testClinicID, "5511999990000", 1).
		WillReturnRows(leadRows())

	_, err := repo.FindLeadByPhone(ctx, "5511999990000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetOrCreateLead_Existing(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE clinic_id = \$1 AND phone_number = \$2`).
		WithArgs(testClinicID, "5511999990000", 1).
		WillReturnRows(leadRows().AddRow("lead-1", testClinicID, "5511999990000", "in_conversation", "whatsapp"))

	lead, err := repo.GetOrCreateLead(ctx, "5511999990000", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, "lead-1", lead.ID)
	assert.Equal(t, "in_conversation", lead.Status)
}

func TestGetOrCreateLead_CreatesNew(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "leads"`).
		WillReturnRows(leadRows())
	mock.ExpectExec(`INSERT INTO "leads"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	lead, err := repo.GetOrCreateLead(ctx, "5511999990000", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, testClinicID, lead.ClinicID)
	assert.Equal(t, defaultLeadStatus, lead.Status)
	assert.NotEmpty(t, lead.ID)
}

func TestGetOrCreateLead_CreationRaceReReadsWinner(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "leads"`).
		WillReturnRows(leadRows())
	mock.ExpectExec(`INSERT INTO "leads"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_leads_clinic_phone"})
	mock.ExpectQuery(`SELECT \* FROM "leads"`).
		WillReturnRows(leadRows().AddRow("lead-winner", testClinicID, "5511999990000", "new", "whatsapp"))

	lead, err := repo.GetOrCreateLead(ctx, "5511999990000", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, "lead-winner", lead.ID)
}

func TestGetOrCreateLead_EmptyPhone(t *testing.T) {
	repo, _, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	_, err := repo.GetOrCreateLead(ctx, "", "whatsapp")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestUpdateLead_NotFoundRollsBack(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE clinic_id = \$1 AND phone_number = \$2 .* FOR UPDATE`).
		WillReturnRows(leadRows())
	mock.ExpectRollback()

	lead := model.NewLead(&model.Lead{ClinicID: testClinicID})
	err := repo.UpdateLead(ctx, *lead)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateLead_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	lead := model.NewLead(&model.Lead{ClinicID: testClinicID, Status: "scheduled"})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE clinic_id = \$1 AND phone_number = \$2 .* FOR UPDATE`).
		WillReturnRows(leadRows().AddRow(lead.ID, lead.ClinicID, lead.PhoneNumber, "new", lead.Source))
	mock.ExpectExec(`UPDATE "leads" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateLead(ctx, *lead)
	assert.NoError(t, err)
}
