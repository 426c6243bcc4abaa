package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// UpsertByPhone mocks the UpsertByPhone method
func (m *ContactRepoMock) UpsertByPhone(ctx context.Context, phone string, hints model.ContactHints) (*model.Contact, error) {
	args := m.Called(ctx, phone, hints)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByPhone mocks the FindByPhone method
func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *ContactRepoMock) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

// FindOpenByContact mocks the FindOpenByContact method
func (m *ConversationRepoMock) FindOpenByContact(ctx context.Context, contactID string) (*model.Conversation, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// CreateOpen mocks the CreateOpen method
func (m *ConversationRepoMock) CreateOpen(ctx context.Context, contactID, channelType string) (*model.Conversation, error) {
	args := m.Called(ctx, contactID, channelType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *ConversationRepoMock) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// RegisterMessage mocks the RegisterMessage method
func (m *ConversationRepoMock) RegisterMessage(ctx context.Context, conversationID string, inbound bool, occurredAt time.Time) error {
	args := m.Called(ctx, conversationID, inbound, occurredAt)
	return args.Error(0)
}

// ResetUnread mocks the ResetUnread method
func (m *ConversationRepoMock) ResetUnread(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// Archive mocks the Archive method
func (m *ConversationRepoMock) Archive(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// SetExternalID mocks the SetExternalID method
func (m *ConversationRepoMock) SetExternalID(ctx context.Context, conversationID, externalID string) error {
	args := m.Called(ctx, conversationID, externalID)
	return args.Error(0)
}

func (m *ConversationRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

// Insert mocks the Insert method
func (m *MessageRepoMock) Insert(ctx context.Context, message model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// FindByExternalID mocks the FindByExternalID method
func (m *MessageRepoMock) FindByExternalID(ctx context.Context, externalMessageID string) (*model.Message, error) {
	args := m.Called(ctx, externalMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// UpdateStatus mocks the UpdateStatus method
func (m *MessageRepoMock) MarkSent(ctx context.Context, messageID, externalMessageID string) error {
	args := m.Called(ctx, messageID, externalMessageID)
	return args.Error(0)
}

func (m *MessageRepoMock) UpdateStatus(ctx context.Context, externalMessageID, status string) error {
	args := m.Called(ctx, externalMessageID, status)
	return args.Error(0)
}

// FindByConversation mocks the FindByConversation method
func (m *MessageRepoMock) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MessageRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

// FindByPhone mocks the FindByPhone method
func (m *LeadRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

// GetOrCreate mocks the GetOrCreate method
func (m *LeadRepoMock) GetOrCreate(ctx context.Context, phone, source string) (*model.Lead, error) {
	args := m.Called(ctx, phone, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

// Update mocks the Update method
func (m *LeadRepoMock) Update(ctx context.Context, lead model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- PatientRepo Mock ---

// PatientRepoMock mocks the PatientRepo interface
type PatientRepoMock struct {
	mock.Mock
}

// Upsert mocks the Upsert method
func (m *PatientRepoMock) Upsert(ctx context.Context, patient model.Patient) error {
	args := m.Called(ctx, patient)
	return args.Error(0)
}

// Delete mocks the Delete method
func (m *PatientRepoMock) Delete(ctx context.Context, patientID string) error {
	args := m.Called(ctx, patientID)
	return args.Error(0)
}

// IsPatientPhone mocks the IsPatientPhone method
func (m *PatientRepoMock) IsPatientPhone(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *PatientRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- NotificationRepo Mock ---

// NotificationRepoMock mocks the NotificationRepo interface
type NotificationRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *NotificationRepoMock) Save(ctx context.Context, notification model.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

// FindRecent mocks the FindRecent method
func (m *NotificationRepoMock) FindRecent(ctx context.Context, limit int) ([]model.Notification, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Notification), args.Error(1)
}

func (m *NotificationRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ExhaustedEventRepo Mock ---

// ExhaustedEventRepoMock mocks the ExhaustedEventRepo interface
type ExhaustedEventRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ExhaustedEventRepoMock) Save(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *ExhaustedEventRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
