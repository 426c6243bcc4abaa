package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Lead is a CRM funnel record tracking the sales/engagement lifecycle of a
// phone number, independent of clinical data. It is reconciled against
// Contact and Patient rows by raw phone equality only, never by foreign key.
// Phones are digit-normalized at ingress, which narrows formatting drift but
// does not eliminate it.
type Lead struct {
	ID                  string     `json:"id" gorm:"primaryKey;type:text"`
	ClinicID            string     `json:"clinic_id" gorm:"column:clinic_id;uniqueIndex:idx_leads_clinic_phone;type:text" validate:"required"`
	PhoneNumber         string     `json:"phone_number" gorm:"column:phone_number;uniqueIndex:idx_leads_clinic_phone;type:text" validate:"required"`
	Status              string     `json:"status" gorm:"column:status;type:text;default:new"`
	Source              string     `json:"source,omitempty" gorm:"column:source;type:text"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	LastInboundAt       *time.Time `json:"last_inbound_at,omitempty" gorm:"column:last_inbound_at"`
	FirstResponseAt     *time.Time `json:"first_response_at,omitempty" gorm:"column:first_response_at"`
	ResponseTimeSeconds *int64     `json:"response_time_seconds,omitempty" gorm:"column:response_time_seconds"`
	CreatedAt           time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt           time.Time  `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Lead model, respecting the Namer.
func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}
