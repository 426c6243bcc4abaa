package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Channel type constants shared by contacts and conversations.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelInstagram = "instagram"
	ChannelFacebook  = "facebook"
	ChannelWeb       = "web"
)

// Contact represents a phone-identified counterpart in a conversation,
// distinct from a clinical Patient record. Created lazily on the first
// inbound event for a (clinic, phone) pair.
type Contact struct {
	ID           string         `json:"id" gorm:"primaryKey;type:text"`
	ClinicID     string         `json:"clinic_id" gorm:"column:clinic_id;uniqueIndex:idx_contacts_clinic_phone;type:text" validate:"required"`
	PhoneNumber  string         `json:"phone_number" gorm:"column:phone_number;uniqueIndex:idx_contacts_clinic_phone;type:text" validate:"required"`
	DisplayName  string         `json:"display_name,omitempty" gorm:"column:display_name;type:text"`
	AvatarURL    string         `json:"avatar_url,omitempty" gorm:"column:avatar_url;type:text"`
	ChannelType  string         `json:"channel_type,omitempty" gorm:"column:channel_type;type:text;default:whatsapp"`
	ExternalID   string         `json:"external_id,omitempty" gorm:"column:external_id;type:text"` // contact id on the conversation platform
	CreatedAt    time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// ContactHints are the volatile fields an inbound event may carry about a
// contact. On upsert they refresh the stored row but never clobber an
// existing richer display name with an empty one.
type ContactHints struct {
	DisplayName string
	AvatarURL   string
	ChannelType string
}
