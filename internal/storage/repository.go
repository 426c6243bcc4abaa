package storage

import (
	"context"
	"time"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	UpsertByPhone(ctx context.Context, phone string, hints model.ContactHints) (*model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	Close(ctx context.Context) error
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	FindOpenByContact(ctx context.Context, contactID string) (*model.Conversation, error)
	CreateOpen(ctx context.Context, contactID, channelType string) (*model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	RegisterMessage(ctx context.Context, conversationID string, inbound bool, occurredAt time.Time) error
	ResetUnread(ctx context.Context, conversationID string) error
	Archive(ctx context.Context, conversationID string) error
	SetExternalID(ctx context.Context, conversationID, externalID string) error
	Close(ctx context.Context) error
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	Insert(ctx context.Context, message model.Message) error
	FindByExternalID(ctx context.Context, externalMessageID string) (*model.Message, error)
	UpdateStatus(ctx context.Context, externalMessageID, status string) error
	MarkSent(ctx context.Context, messageID, externalMessageID string) error
	FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	Close(ctx context.Context) error
}

// LeadRepo defines lead storage operations
type LeadRepo interface {
	FindByPhone(ctx context.Context, phone string) (*model.Lead, error)
	GetOrCreate(ctx context.Context, phone, source string) (*model.Lead, error)
	Update(ctx context.Context, lead model.Lead) error
	Close(ctx context.Context) error
}

// PatientRepo defines patient mirror storage operations
type PatientRepo interface {
	Upsert(ctx context.Context, patient model.Patient) error
	Delete(ctx context.Context, patientID string) error
	IsPatientPhone(ctx context.Context, phone string) (bool, error)
	Close(ctx context.Context) error
}

// NotificationRepo defines notification storage operations
type NotificationRepo interface {
	Save(ctx context.Context, notification model.Notification) error
	FindRecent(ctx context.Context, limit int) ([]model.Notification, error)
	Close(ctx context.Context) error
}

// ExhaustedEventRepo defines exhausted event storage operations
type ExhaustedEventRepo interface {
	Save(ctx context.Context, event model.ExhaustedEvent) error
	Close(ctx context.Context) error
}
