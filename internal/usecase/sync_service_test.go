package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/dedup"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/presence"
	storagemock "gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage/mock"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

const testClinicID = "clinic-test-123"

type emitterMock struct {
	mock.Mock
}

func (m *emitterMock) Emit(ctx context.Context, notification model.Notification) {
	m.Called(ctx, notification)
}

type syncFixture struct {
	contacts      *storagemock.ContactRepoMock
	conversations *storagemock.ConversationRepoMock
	messages      *storagemock.MessageRepoMock
	notifications *storagemock.NotificationRepoMock
	leadRepo      *storagemock.LeadRepoMock
	patients      *storagemock.PatientRepoMock
	emitter       *emitterMock
	viewers       *presence.Tracker
	service       *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	logger.Log = zaptest.NewLogger(t).Named("test")

	f := &syncFixture{
		contacts:      new(storagemock.ContactRepoMock),
		conversations: new(storagemock.ConversationRepoMock),
		messages:      new(storagemock.MessageRepoMock),
		notifications: new(storagemock.NotificationRepoMock),
		leadRepo:      new(storagemock.LeadRepoMock),
		patients:      new(storagemock.PatientRepoMock),
		emitter:       new(emitterMock),
		viewers:       presence.NewTracker(30 * time.Second),
	}
	f.service = NewSyncService(
		f.contacts,
		f.conversations,
		f.messages,
		f.notifications,
		NewLeadService(f.leadRepo, f.patients),
		dedup.NewCache(testClinicID, time.Minute, time.Minute, 0),
		f.viewers,
		f.emitter,
	)
	return f
}

func testCtx() context.Context {
	return tenant.WithClinicID(context.Background(), testClinicID)
}

func inboundEvent() model.CanonicalEvent {
	return model.CanonicalEvent{
		ClinicID:               testClinicID,
		Phone:                  "5511988887777",
		DisplayName:            "Maria Silva",
		ChannelType:            model.ChannelWhatsApp,
		Direction:              model.DirectionInbound,
		SenderType:             model.SenderContact,
		Content:                "ola, gostaria de agendar uma consulta",
		ExternalMessageID:      "ext-msg-1",
		ExternalConversationID: "77",
		Source:                 model.SourcePlatform,
		OccurredAt:             time.Now(),
	}
}

func (f *syncFixture) stubHappyPath(ev model.CanonicalEvent) (*model.Contact, *model.Conversation) {
	contact := &model.Contact{ID: "contact-1", ClinicID: testClinicID, PhoneNumber: ev.Phone, DisplayName: ev.DisplayName}
	conversation := &model.Conversation{ID: "conv-1", ClinicID: testClinicID, ContactID: contact.ID, Status: model.ConversationOpen}

	f.contacts.On("UpsertByPhone", mock.Anything, ev.Phone, mock.Anything).Return(contact, nil)
	f.conversations.On("FindOpenByContact", mock.Anything, contact.ID).Return(nil, apperrors.ErrNotFound)
	f.conversations.On("CreateOpen", mock.Anything, contact.ID, ev.ChannelType).Return(conversation, nil)
	f.conversations.On("SetExternalID", mock.Anything, conversation.ID, ev.ExternalConversationID).Return(nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.conversations.On("RegisterMessage", mock.Anything, conversation.ID, mock.Anything, mock.Anything).Return(nil)
	return contact, conversation
}

func (f *syncFixture) stubFreshLead(phone string) {
	f.leadRepo.On("FindByPhone", mock.Anything, phone).Return(nil, apperrors.ErrNotFound)
	f.patients.On("IsPatientPhone", mock.Anything, phone).Return(false, nil)
	f.leadRepo.On("GetOrCreate", mock.Anything, phone, mock.Anything).
		Return(model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: phone}), nil)
	f.leadRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
}

func TestProcessMessageEvent_InboundHappyPath(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()

	f.stubHappyPath(ev)
	f.stubFreshLead(ev.Phone)
	f.emitter.On("Emit", mock.Anything, mock.MatchedBy(func(n model.Notification) bool {
		return n.ConversationID == "conv-1" && n.ContactName == "Maria Silva" && n.Preview != ""
	})).Return()

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)

	f.contacts.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.leadRepo.AssertExpectations(t)
	f.emitter.AssertExpectations(t)
}

func TestProcessMessageEvent_MissingPhoneIsFatal(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()
	ev.Phone = ""

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	f.contacts.AssertNotCalled(t, "UpsertByPhone")
}

func TestProcessMessageEvent_ClinicMismatchIsFatal(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()
	ev.ClinicID = "other-clinic"

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestProcessMessageEvent_DuplicateInsertIsNoOp(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()

	contact := &model.Contact{ID: "contact-1", ClinicID: testClinicID, PhoneNumber: ev.Phone}
	conversation := &model.Conversation{ID: "conv-1", ClinicID: testClinicID, ContactID: contact.ID, Status: model.ConversationOpen, ExternalID: ev.ExternalConversationID}

	f.contacts.On("UpsertByPhone", mock.Anything, ev.Phone, mock.Anything).Return(contact, nil)
	f.conversations.On("FindOpenByContact", mock.Anything, contact.ID).Return(conversation, nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate)
	f.messages.On("FindByExternalID", mock.Anything, ev.ExternalMessageID).
		Return(&model.Message{ID: "msg-existing", ExternalMessageID: ev.ExternalMessageID}, nil)

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)

	// Replays never re-run side effects.
	f.conversations.AssertNotCalled(t, "RegisterMessage")
	f.leadRepo.AssertNotCalled(t, "FindByPhone")
	f.emitter.AssertNotCalled(t, "Emit")
}

func TestProcessMessageEvent_DedupCacheShortCircuits(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()

	contact := &model.Contact{ID: "contact-1", ClinicID: testClinicID, PhoneNumber: ev.Phone}
	conversation := &model.Conversation{ID: "conv-1", ClinicID: testClinicID, ContactID: contact.ID, Status: model.ConversationOpen, ExternalID: ev.ExternalConversationID}

	f.service.dedupCache.MarkSeen(ev.ExternalMessageID)

	f.contacts.On("UpsertByPhone", mock.Anything, ev.Phone, mock.Anything).Return(contact, nil)
	f.conversations.On("FindOpenByContact", mock.Anything, contact.ID).Return(conversation, nil)
	f.messages.On("FindByExternalID", mock.Anything, ev.ExternalMessageID).
		Return(&model.Message{ID: "msg-existing", ExternalMessageID: ev.ExternalMessageID}, nil)

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)
	f.messages.AssertNotCalled(t, "Insert")
}

func TestProcessMessageEvent_OutboundSkipsNotification(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()
	ev.Direction = model.DirectionOutbound
	ev.SenderType = model.SenderUser
	ev.ExternalMessageID = "ext-msg-out"

	f.stubHappyPath(ev)
	// Outbound to an unknown phone is a funnel no-op.
	f.leadRepo.On("FindByPhone", mock.Anything, ev.Phone).Return(nil, apperrors.ErrNotFound)

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)
	f.emitter.AssertNotCalled(t, "Emit")
}

func TestProcessMessageEvent_ActiveViewerSuppressesNotification(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()

	f.stubHappyPath(ev)
	f.stubFreshLead(ev.Phone)
	f.viewers.Touch("conv-1")

	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)
	f.emitter.AssertNotCalled(t, "Emit")
}

func TestProcessMessageEvent_LeadFailureDoesNotFailPipeline(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()

	f.stubHappyPath(ev)
	f.leadRepo.On("FindByPhone", mock.Anything, ev.Phone).Return(nil, apperrors.ErrDatabase)
	f.emitter.On("Emit", mock.Anything, mock.Anything).Return()

	// The message row is committed; a lead failure must not trigger redelivery.
	err := f.service.ProcessMessageEvent(testCtx(), ev, nil)
	require.NoError(t, err)
}

func TestProcessLabelEvent_AppliesLabels(t *testing.T) {
	f := newSyncFixture(t)
	ev := inboundEvent()
	ev.Labels = []string{"Agendado"}

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: ev.Phone, Status: "in_conversation"})
	f.leadRepo.On("FindByPhone", mock.Anything, ev.Phone).Return(existing, nil)
	f.leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "scheduled"
	})).Return(nil)

	err := f.service.ProcessLabelEvent(testCtx(), ev)
	require.NoError(t, err)
	f.leadRepo.AssertExpectations(t)
}

func TestProcessPatientChange_Delete(t *testing.T) {
	f := newSyncFixture(t)

	f.patients.On("Delete", mock.Anything, "pat-55").Return(nil)

	err := f.service.ProcessPatientChange(testCtx(), testClinicID, model.DBTriggerEvent{
		EventType: "DELETE",
		PatientID: "pat-55",
	})
	require.NoError(t, err)
	f.patients.AssertExpectations(t)
}

func TestProcessPatientChange_UpsertNormalizesPhone(t *testing.T) {
	f := newSyncFixture(t)

	f.patients.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.Patient) bool {
		return p.PatientID == "pat-55" && p.PhoneNumber == "5511988887777" && p.ClinicID == testClinicID
	})).Return(nil)

	ev := model.DBTriggerEvent{EventType: "UPDATE", PatientID: "pat-55"}
	ev.PatientData = &struct {
		Phone string `json:"phone,omitempty"`
		Name  string `json:"name,omitempty"`
	}{Phone: "+55 (11) 98888-7777", Name: "Maria Silva"}

	err := f.service.ProcessPatientChange(testCtx(), testClinicID, ev)
	require.NoError(t, err)
	f.patients.AssertExpectations(t)
}

func TestProcessPatientChange_MissingDataIsFatal(t *testing.T) {
	f := newSyncFixture(t)

	err := f.service.ProcessPatientChange(testCtx(), testClinicID, model.DBTriggerEvent{
		EventType: "INSERT",
		PatientID: "pat-55",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	f.patients.AssertNotCalled(t, "Upsert")
}

func TestMarkConversationRead(t *testing.T) {
	f := newSyncFixture(t)

	conversation := &model.Conversation{ID: "conv-1", ClinicID: testClinicID, UnreadCount: 4, ExternalID: "77"}
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(conversation, nil)
	f.conversations.On("ResetUnread", mock.Anything, "conv-1").Return(nil)

	got, err := f.service.MarkConversationRead(testCtx(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.UnreadCount)
	assert.Equal(t, "77", got.ExternalID)
	assert.True(t, f.viewers.Active("conv-1"))
}

func TestMarkConversationRead_NotFound(t *testing.T) {
	f := newSyncFixture(t)

	f.conversations.On("FindByID", mock.Anything, "missing").Return(nil, apperrors.ErrNotFound)

	_, err := f.service.MarkConversationRead(testCtx(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPreviewOf_TruncatesLongContent(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "consulta "
	}
	preview := previewOf(long)
	assert.Len(t, []rune(preview), notificationPreviewLimit)

	short := "ola"
	assert.Equal(t, short, previewOf(short))
}
