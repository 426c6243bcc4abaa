package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
	platformmock "gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform/mock"
	storagemock "gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage/mock"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

type outboundFixture struct {
	outbound      *Outbound
	platformAPI   *platformmock.ClientMock
	messages      *storagemock.MessageRepoMock
	conversations *storagemock.ConversationRepoMock
	contacts      *storagemock.ContactRepoMock
	queue         *Queue
}

func newOutboundFixture(t *testing.T) *outboundFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	f := &outboundFixture{
		platformAPI:   new(platformmock.ClientMock),
		messages:      new(storagemock.MessageRepoMock),
		conversations: new(storagemock.ConversationRepoMock),
		contacts:      new(storagemock.ContactRepoMock),
		queue:         newTestQueue(t),
	}
	f.outbound = NewOutbound(f.platformAPI, f.messages, f.conversations, f.contacts, f.queue, testClinicID)
	return f
}

func outboundCtx() context.Context {
	return tenant.WithClinicID(context.Background(), testClinicID)
}

func linkedConversation() *model.Conversation {
	return &model.Conversation{
		ID:         "conv-1",
		ClinicID:   testClinicID,
		ContactID:  "contact-1",
		ExternalID: "77",
	}
}

func unlinkedConversation() *model.Conversation {
	return &model.Conversation{
		ID:        "conv-1",
		ClinicID:  testClinicID,
		ContactID: "contact-1",
	}
}

func localContact() *model.Contact {
	return &model.Contact{
		ID:          "contact-1",
		ClinicID:    testClinicID,
		PhoneNumber: "+5511999990000",
		DisplayName: "Maria Souza",
	}
}

func queueDepth(t *testing.T, queue *Queue) int64 {
	t.Helper()
	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	return depth
}

func TestSend_DeliversImmediatelyWhenOnline(t *testing.T) {
	f := newOutboundFixture(t)

	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(linkedConversation(), nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 77, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 901}, nil)
	f.messages.On("MarkSent", mock.Anything, mock.AnythingOfType("string"), "901").Return(nil)

	message, err := f.outbound.Send(outboundCtx(), linkedConversation(), "we have an opening tomorrow")
	require.NoError(t, err)

	assert.Equal(t, model.MessageSent, message.Status)
	assert.Zero(t, queueDepth(t, f.queue))
	f.platformAPI.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestSend_ParksMessageWhenPlatformUnreachable(t *testing.T) {
	f := newOutboundFixture(t)

	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(linkedConversation(), nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 77, mock.AnythingOfType("platform.MessagePayload")).
		Return(nil, apperrors.NewRetryable(errors.New("connection refused"), "platform unreachable"))

	message, err := f.outbound.Send(outboundCtx(), linkedConversation(), "hello")
	require.NoError(t, err)

	assert.Equal(t, model.MessagePending, message.Status)
	assert.Equal(t, int64(1), queueDepth(t, f.queue))
	f.messages.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything)
}

// A conversation that was opened from a bus event has no platform-side
// counterpart yet. The first send must create the contact and conversation
// on the platform, persist the link, and then deliver.
func TestSend_LinksUnlinkedConversationAndDelivers(t *testing.T) {
	f := newOutboundFixture(t)

	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(unlinkedConversation(), nil)
	f.contacts.On("FindByID", mock.Anything, "contact-1").Return(localContact(), nil)
	f.platformAPI.On("FindContactByPhone", mock.Anything, "+5511999990000").Return(nil, nil)
	f.platformAPI.On("CreateContact", mock.Anything, platform.ContactPayload{
		Name:        "Maria Souza",
		PhoneNumber: "+5511999990000",
	}).Return(&platform.Contact{ID: 5}, nil)
	f.platformAPI.On("ConversationsForContact", mock.Anything, 5).Return(nil, nil)
	f.platformAPI.On("CreateConversation", mock.Anything, 5).Return(&platform.Conversation{ID: 88}, nil)
	f.conversations.On("SetExternalID", mock.Anything, "conv-1", "88").Return(nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 88, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 901}, nil)
	f.messages.On("MarkSent", mock.Anything, mock.AnythingOfType("string"), "901").Return(nil)

	message, err := f.outbound.Send(outboundCtx(), unlinkedConversation(), "hello")
	require.NoError(t, err)

	assert.Equal(t, model.MessageSent, message.Status)
	assert.Zero(t, queueDepth(t, f.queue))
	f.platformAPI.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
}

func TestSend_ReusesOpenPlatformConversation(t *testing.T) {
	f := newOutboundFixture(t)

	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(unlinkedConversation(), nil)
	f.contacts.On("FindByID", mock.Anything, "contact-1").Return(localContact(), nil)
	f.platformAPI.On("FindContactByPhone", mock.Anything, "+5511999990000").
		Return(&platform.Contact{ID: 5}, nil)
	f.platformAPI.On("ConversationsForContact", mock.Anything, 5).Return([]platform.Conversation{
		{ID: 60, ContactID: 5, Status: "resolved"},
		{ID: 61, ContactID: 5, Status: "open"},
	}, nil)
	f.conversations.On("SetExternalID", mock.Anything, "conv-1", "61").Return(nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 61, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 902}, nil)
	f.messages.On("MarkSent", mock.Anything, mock.AnythingOfType("string"), "902").Return(nil)

	_, err := f.outbound.Send(outboundCtx(), unlinkedConversation(), "hello again")
	require.NoError(t, err)

	f.platformAPI.AssertNotCalled(t, "CreateContact", mock.Anything, mock.Anything)
	f.platformAPI.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything)
	f.conversations.AssertExpectations(t)
}

func TestSend_UnlinkedConversationParkedWhenPlatformUnreachable(t *testing.T) {
	f := newOutboundFixture(t)

	f.messages.On("Insert", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(unlinkedConversation(), nil)
	f.contacts.On("FindByID", mock.Anything, "contact-1").Return(localContact(), nil)
	f.platformAPI.On("FindContactByPhone", mock.Anything, "+5511999990000").
		Return(nil, apperrors.NewRetryable(errors.New("connection refused"), "platform unreachable"))

	message, err := f.outbound.Send(outboundCtx(), unlinkedConversation(), "hello")
	require.NoError(t, err)

	assert.Equal(t, model.MessagePending, message.Status)
	assert.Equal(t, int64(1), queueDepth(t, f.queue))
}

func TestReplaySender_DeliversParkedMessageAndFinalizes(t *testing.T) {
	f := newOutboundFixture(t)

	require.NoError(t, f.queue.Enqueue(context.Background(), QueueItem{
		TempID:         "msg-1",
		ConversationID: "conv-1",
		Payload:        []byte(`{"message_id":"msg-1","conversation_id":"conv-1","content":"hi"}`),
	}))

	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(linkedConversation(), nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 77, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 902}, nil)
	f.messages.On("MarkSent", mock.Anything, "msg-1", "902").Return(nil)

	result, err := f.queue.Replay(context.Background(), f.outbound.ReplaySender())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, queueDepth(t, f.queue))
	f.messages.AssertExpectations(t)
}

func TestReplaySender_CorruptPayloadIsDropped(t *testing.T) {
	f := newOutboundFixture(t)

	require.NoError(t, f.queue.Enqueue(context.Background(), QueueItem{
		TempID:         "msg-1",
		ConversationID: "conv-1",
		Payload:        []byte("not json"),
	}))

	result, err := f.queue.Replay(context.Background(), f.outbound.ReplaySender())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, queueDepth(t, f.queue))
	f.platformAPI.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything)
}

// A payload whose conversation no longer exists can never deliver. Replay
// drops it so the item behind it still gets a chance.
func TestReplaySender_UndeliverablePayloadIsDropped(t *testing.T) {
	f := newOutboundFixture(t)

	require.NoError(t, f.queue.Enqueue(context.Background(), QueueItem{
		TempID:         "msg-1",
		ConversationID: "conv-gone",
		Payload:        []byte(`{"message_id":"msg-1","conversation_id":"conv-gone","content":"hi"}`),
	}))
	require.NoError(t, f.queue.Enqueue(context.Background(), QueueItem{
		TempID:         "msg-2",
		ConversationID: "conv-1",
		Payload:        []byte(`{"message_id":"msg-2","conversation_id":"conv-1","content":"still here"}`),
	}))

	f.conversations.On("FindByID", mock.Anything, "conv-gone").Return(nil, apperrors.ErrNotFound)
	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(linkedConversation(), nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 77, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 903}, nil)
	f.messages.On("MarkSent", mock.Anything, "msg-2", "903").Return(nil)

	result, err := f.queue.Replay(context.Background(), f.outbound.ReplaySender())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Zero(t, queueDepth(t, f.queue))
	f.messages.AssertExpectations(t)
}

func TestMonitor_ReconnectTriggersReplay(t *testing.T) {
	f := newOutboundFixture(t)

	require.NoError(t, f.queue.Enqueue(context.Background(), QueueItem{
		TempID:         "msg-1",
		ConversationID: "conv-1",
		Payload:        []byte(`{"message_id":"msg-1","conversation_id":"conv-1","content":"hi"}`),
	}))

	f.conversations.On("FindByID", mock.Anything, "conv-1").Return(linkedConversation(), nil)
	f.platformAPI.On("CreateMessage", mock.Anything, 77, mock.AnythingOfType("platform.MessagePayload")).
		Return(&platform.Message{ID: 903}, nil)
	f.messages.On("MarkSent", mock.Anything, "msg-1", "903").Return(nil)
	f.platformAPI.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	f.platformAPI.On("Ping", mock.Anything).Return(nil)

	monitor := NewMonitor(f.queue, f.platformAPI, f.outbound.ReplaySender(), time.Second, time.Hour)

	monitor.probe()
	assert.False(t, monitor.Online())

	monitor.probe()
	assert.True(t, monitor.Online())
	assert.Zero(t, queueDepth(t, f.queue))
	f.messages.AssertExpectations(t)
}
