package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Notification is a persisted user-facing alert raised when an inbound
// message arrives outside an active viewing context. Emission is best-effort:
// a failed save or publish never rolls back the message write that caused it.
type Notification struct {
	ID             string    `json:"id" gorm:"primaryKey;type:text"`
	ClinicID       string    `json:"clinic_id" gorm:"column:clinic_id;index;type:text" validate:"required"`
	ConversationID string    `json:"conversation_id" gorm:"column:conversation_id;index;type:text" validate:"required"`
	ContactName    string    `json:"contact_name,omitempty" gorm:"column:contact_name;type:text"`
	Preview        string    `json:"preview,omitempty" gorm:"column:preview;type:text"`
	CreatedAt      time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the Notification model, respecting the Namer.
func (Notification) TableName(namer schema.Namer) string {
	return namer.TableName("notifications")
}
