package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

func testMessage() model.Message {
	return model.Message{
		ID:                "msg-1",
		ClinicID:          testClinicID,
		ConversationID:    "conv-1",
		ContactID:         "contact-1",
		SenderType:        model.SenderContact,
		Direction:         model.DirectionInbound,
		Content:           "ola, gostaria de agendar",
		Status:            model.MessagePending,
		ExternalMessageID: "wamid.test-1",
		OccurredAt:        time.Now(),
	}
}

func TestInsertMessage_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`INSERT INTO "messages"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertMessage(ctx, testMessage())
	assert.NoError(t, err)
}

func TestInsertMessage_DuplicateExternalID(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`INSERT INTO "messages"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_messages_clinic_external_id"})

	err := repo.InsertMessage(ctx, testMessage())
	assert.Error(t, err)
	assert.True(t, apperrors.IsDuplicateError(err))
}

func TestInsertMessage_ClinicMismatch(t *testing.T) {
	repo, _, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	message := testMessage()
	message.ClinicID = "other-clinic"

	err := repo.InsertMessage(ctx, message)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestUpdateMessageStatus_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "messages" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateMessageStatus(ctx, "wamid.test-1", model.MessageDelivered)
	assert.NoError(t, err)
}

func TestUpdateMessageStatus_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "messages" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateMessageStatus(ctx, "wamid.missing", model.MessageRead)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindMessageByExternalID_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE clinic_id = \$1 AND external_message_id = \$2`).
		WithArgs(testClinicID, "wamid.missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindMessageByExternalID(ctx, "wamid.missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindMessageByExternalID_Found(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	rows := sqlmock.NewRows([]string{"id", "clinic_id", "conversation_id", "external_message_id", "status"}).
		AddRow("msg-1", testClinicID, "conv-1", "wamid.test-1", model.MessageSent)
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE clinic_id = \$1 AND external_message_id = \$2`).
		WithArgs(testClinicID, "wamid.test-1", 1).
		WillReturnRows(rows)

	message, err := repo.FindMessageByExternalID(ctx, "wamid.test-1")
	assert.NoError(t, err)
	assert.Equal(t, "msg-1", message.ID)
	assert.Equal(t, model.MessageSent, message.Status)
}

func TestMarkMessageSent_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "messages" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkMessageSent(ctx, "msg-1", "901")
	assert.NoError(t, err)
}

func TestMarkMessageSent_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "messages" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkMessageSent(ctx, "msg-missing", "901")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
