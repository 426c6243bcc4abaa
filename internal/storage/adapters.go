package storage

import (
	"context"
	"time"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

// UpsertByPhone creates or enriches a contact
func (a *ContactRepoAdapter) UpsertByPhone(ctx context.Context, phone string, hints model.ContactHints) (*model.Contact, error) {
	return a.postgres.UpsertContactByPhone(ctx, phone, hints)
}

// FindByPhone finds a contact by phone number
func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

// FindByID finds a contact by ID
func (a *ContactRepoAdapter) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

func (a *ContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

// FindOpenByContact finds the open conversation for a contact
func (a *ConversationRepoAdapter) FindOpenByContact(ctx context.Context, contactID string) (*model.Conversation, error) {
	return a.postgres.FindOpenConversationByContact(ctx, contactID)
}

// CreateOpen creates an open conversation
func (a *ConversationRepoAdapter) CreateOpen(ctx context.Context, contactID, channelType string) (*model.Conversation, error) {
	return a.postgres.CreateOpenConversation(ctx, contactID, channelType)
}

// FindByID finds a conversation by ID
func (a *ConversationRepoAdapter) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return a.postgres.FindConversationByID(ctx, id)
}

// RegisterMessage bumps conversation counters after a message write
func (a *ConversationRepoAdapter) RegisterMessage(ctx context.Context, conversationID string, inbound bool, occurredAt time.Time) error {
	return a.postgres.RegisterMessageOnConversation(ctx, conversationID, inbound, occurredAt)
}

// ResetUnread zeroes the unread counter
func (a *ConversationRepoAdapter) ResetUnread(ctx context.Context, conversationID string) error {
	return a.postgres.ResetUnreadCount(ctx, conversationID)
}

// Archive archives a conversation
func (a *ConversationRepoAdapter) Archive(ctx context.Context, conversationID string) error {
	return a.postgres.ArchiveConversation(ctx, conversationID)
}

// SetExternalID stores the platform-side conversation id
func (a *ConversationRepoAdapter) SetExternalID(ctx context.Context, conversationID, externalID string) error {
	return a.postgres.SetConversationExternalID(ctx, conversationID, externalID)
}

func (a *ConversationRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

// Insert persists a new message
func (a *MessageRepoAdapter) Insert(ctx context.Context, message model.Message) error {
	return a.postgres.InsertMessage(ctx, message)
}

// FindByExternalID finds a message by its platform message id
func (a *MessageRepoAdapter) FindByExternalID(ctx context.Context, externalMessageID string) (*model.Message, error) {
	return a.postgres.FindMessageByExternalID(ctx, externalMessageID)
}

// UpdateStatus moves a message along its status lifecycle
func (a *MessageRepoAdapter) UpdateStatus(ctx context.Context, externalMessageID, status string) error {
	return a.postgres.UpdateMessageStatus(ctx, externalMessageID, status)
}

// MarkSent finalizes a queued message after the platform accepted it
func (a *MessageRepoAdapter) MarkSent(ctx context.Context, messageID, externalMessageID string) error {
	return a.postgres.MarkMessageSent(ctx, messageID, externalMessageID)
}

// FindByConversation lists a conversation's messages
func (a *MessageRepoAdapter) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	return a.postgres.FindMessagesByConversation(ctx, conversationID, limit, offset)
}

func (a *MessageRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// LeadRepoAdapter adapts the PostgresRepo to the LeadRepo interface
type LeadRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLeadRepoAdapter creates a new lead repository adapter
func NewLeadRepoAdapter(postgres *PostgresRepo) LeadRepo {
	return &LeadRepoAdapter{postgres: postgres}
}

// FindByPhone finds a lead by phone number
func (a *LeadRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	return a.postgres.FindLeadByPhone(ctx, phone)
}

// GetOrCreate returns the lead for the phone, creating one when missing
func (a *LeadRepoAdapter) GetOrCreate(ctx context.Context, phone, source string) (*model.Lead, error) {
	return a.postgres.GetOrCreateLead(ctx, phone, source)
}

// Update persists lead changes
func (a *LeadRepoAdapter) Update(ctx context.Context, lead model.Lead) error {
	return a.postgres.UpdateLead(ctx, lead)
}

func (a *LeadRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// PatientRepoAdapter adapts the PostgresRepo to the PatientRepo interface
type PatientRepoAdapter struct {
	postgres *PostgresRepo
}

// NewPatientRepoAdapter creates a new patient repository adapter
func NewPatientRepoAdapter(postgres *PostgresRepo) PatientRepo {
	return &PatientRepoAdapter{postgres: postgres}
}

// Upsert inserts or refreshes a patient mirror row
func (a *PatientRepoAdapter) Upsert(ctx context.Context, patient model.Patient) error {
	return a.postgres.UpsertPatient(ctx, patient)
}

// Delete removes a patient mirror row
func (a *PatientRepoAdapter) Delete(ctx context.Context, patientID string) error {
	return a.postgres.DeletePatient(ctx, patientID)
}

// IsPatientPhone reports whether the phone belongs to a known patient
func (a *PatientRepoAdapter) IsPatientPhone(ctx context.Context, phone string) (bool, error) {
	return a.postgres.IsPatientPhone(ctx, phone)
}

func (a *PatientRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// NotificationRepoAdapter adapts the PostgresRepo to the NotificationRepo interface
type NotificationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewNotificationRepoAdapter creates a new notification repository adapter
func NewNotificationRepoAdapter(postgres *PostgresRepo) NotificationRepo {
	return &NotificationRepoAdapter{postgres: postgres}
}

// Save persists a notification
func (a *NotificationRepoAdapter) Save(ctx context.Context, notification model.Notification) error {
	return a.postgres.SaveNotification(ctx, notification)
}

// FindRecent lists the newest notifications
func (a *NotificationRepoAdapter) FindRecent(ctx context.Context, limit int) ([]model.Notification, error) {
	return a.postgres.FindRecentNotifications(ctx, limit)
}

func (a *NotificationRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ExhaustedEventRepoAdapter adapts the PostgresRepo to the ExhaustedEventRepo interface
type ExhaustedEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedEventRepoAdapter creates a new exhausted event repository adapter
func NewExhaustedEventRepoAdapter(postgres *PostgresRepo) ExhaustedEventRepo {
	return &ExhaustedEventRepoAdapter{postgres: postgres}
}

// Save saves an exhausted event
func (a *ExhaustedEventRepoAdapter) Save(ctx context.Context, event model.ExhaustedEvent) error {
	return a.postgres.SaveExhaustedEvent(ctx, event)
}

func (a *ExhaustedEventRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ ContactRepo = (*ContactRepoAdapter)(nil)
var _ ConversationRepo = (*ConversationRepoAdapter)(nil)
var _ MessageRepo = (*MessageRepoAdapter)(nil)
var _ LeadRepo = (*LeadRepoAdapter)(nil)
var _ PatientRepo = (*PatientRepoAdapter)(nil)
var _ NotificationRepo = (*NotificationRepoAdapter)(nil)
var _ ExhaustedEventRepo = (*ExhaustedEventRepoAdapter)(nil)
