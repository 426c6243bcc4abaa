package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Message direction.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender types.
const (
	SenderContact = "contact"
	SenderUser    = "user"
	SenderSystem  = "system"
)

// Message status lifecycle.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// Message is a single communication unit in a conversation. Rows are
// immutable once persisted except for the status column. ExternalMessageID
// carries the platform's message id and backs idempotent recording: a
// partial unique index on (clinic_id, external_message_id) rejects replays.
type Message struct {
	ID                string         `json:"id" gorm:"primaryKey;type:text"`
	ClinicID          string         `json:"clinic_id" gorm:"column:clinic_id;type:text" validate:"required"`
	ConversationID    string         `json:"conversation_id" gorm:"column:conversation_id;index;type:text" validate:"required"`
	ContactID         string         `json:"contact_id,omitempty" gorm:"column:contact_id;index;type:text"`
	SenderType        string         `json:"sender_type" gorm:"column:sender_type;type:text" validate:"required,oneof=contact user system"`
	Direction         string         `json:"direction" gorm:"column:direction;type:text" validate:"required,oneof=inbound outbound"`
	Content           string         `json:"content,omitempty" gorm:"column:content;type:text"`
	MediaURL          string         `json:"media_url,omitempty" gorm:"column:media_url;type:text"`
	Status            string         `json:"status,omitempty" gorm:"column:status;type:text;default:pending"`
	ExternalMessageID string         `json:"external_message_id,omitempty" gorm:"column:external_message_id;type:text"`
	OccurredAt        time.Time      `json:"occurred_at,omitempty" gorm:"column:occurred_at"`
	CreatedAt         time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata      datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}
