package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
)

// ClientMock is a testify mock for platform.ClientAPI.
type ClientMock struct {
	mock.Mock
}

var _ platform.ClientAPI = (*ClientMock)(nil)

func (m *ClientMock) CreateContact(ctx context.Context, payload platform.ContactPayload) (*platform.Contact, error) {
	args := m.Called(ctx, payload)
	contact, _ := args.Get(0).(*platform.Contact)
	return contact, args.Error(1)
}

func (m *ClientMock) FindContactByPhone(ctx context.Context, phoneNumber string) (*platform.Contact, error) {
	args := m.Called(ctx, phoneNumber)
	contact, _ := args.Get(0).(*platform.Contact)
	return contact, args.Error(1)
}

func (m *ClientMock) CreateConversation(ctx context.Context, contactID int) (*platform.Conversation, error) {
	args := m.Called(ctx, contactID)
	conversation, _ := args.Get(0).(*platform.Conversation)
	return conversation, args.Error(1)
}

func (m *ClientMock) ConversationsForContact(ctx context.Context, contactID int) ([]platform.Conversation, error) {
	args := m.Called(ctx, contactID)
	conversations, _ := args.Get(0).([]platform.Conversation)
	return conversations, args.Error(1)
}

func (m *ClientMock) CreateMessage(ctx context.Context, conversationID int, payload platform.MessagePayload) (*platform.Message, error) {
	args := m.Called(ctx, conversationID, payload)
	message, _ := args.Get(0).(*platform.Message)
	return message, args.Error(1)
}

func (m *ClientMock) MarkConversationRead(ctx context.Context, conversationID int) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *ClientMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
