package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

func conversationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "clinic_id", "contact_id", "status", "channel_type", "unread_count"})
}

func TestFindOpenConversationByContact_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE clinic_id = \$1 AND contact_id = \$2 AND status = \$3`).
		WithArgs(testClinicID, "contact-1", model.ConversationOpen, 1).
		WillReturnRows(conversationRows())

	_, err := repo.FindOpenConversationByContact(ctx, "contact-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateOpenConversation_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`INSERT INTO "conversations"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conversation, err := repo.CreateOpenConversation(ctx, "contact-1", model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, testClinicID, conversation.ClinicID)
	assert.Equal(t, model.ConversationOpen, conversation.Status)
	assert.NotEmpty(t, conversation.ID)
}

func TestCreateOpenConversation_RaceReturnsWinner(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`INSERT INTO "conversations"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_conversations_one_open"})
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE clinic_id = \$1 AND contact_id = \$2 AND status = \$3`).
		WillReturnRows(conversationRows().AddRow("conv-winner", testClinicID, "contact-1", model.ConversationOpen, model.ChannelWhatsApp, 2))

	conversation, err := repo.CreateOpenConversation(ctx, "contact-1", model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "conv-winner", conversation.ID)
	assert.Equal(t, int32(2), conversation.UnreadCount)
}

func TestRegisterMessageOnConversation_InboundBumpsUnread(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "conversations" SET .*unread_count.*`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RegisterMessageOnConversation(ctx, "conv-1", true, utils.Now())
	assert.NoError(t, err)
}

func TestRegisterMessageOnConversation_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "conversations" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RegisterMessageOnConversation(ctx, "conv-missing", false, utils.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResetUnreadCount_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "conversations" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ResetUnreadCount(ctx, "conv-1")
	assert.NoError(t, err)
}

func TestArchiveConversation_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := contextWithTestClinic()

	mock.ExpectExec(`UPDATE "conversations" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ArchiveConversation(ctx, "conv-missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
