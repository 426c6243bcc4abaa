package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Conversation status values.
const (
	ConversationOpen     = "open"
	ConversationArchived = "archived"
)

// Conversation represents an ongoing thread with a Contact. At most one open
// conversation exists per (clinic, contact) at steady state; this is enforced
// by a partial unique index and by the resolver's on-conflict re-read.
type Conversation struct {
	ID            string         `json:"id" gorm:"primaryKey;type:text"`
	ClinicID      string         `json:"clinic_id" gorm:"column:clinic_id;type:text" validate:"required"`
	ContactID     string         `json:"contact_id" gorm:"column:contact_id;index;type:text" validate:"required"`
	Status        string         `json:"status" gorm:"column:status;type:text;default:open"`
	ChannelType   string         `json:"channel_type,omitempty" gorm:"column:channel_type;type:text"`
	UnreadCount   int32          `json:"unread_count,omitempty" gorm:"column:unread_count"`
	ExternalID    string         `json:"external_id,omitempty" gorm:"column:external_id;type:text"` // conversation id on the platform
	LastMessageAt *time.Time     `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	CreatedAt     time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata  datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}
