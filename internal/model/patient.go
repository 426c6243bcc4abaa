package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Patient is a minimal mirror of the clinic database's patient row, kept in
// sync from database change-trigger events. Only the phone matters here: a
// phone that belongs to a Patient is excluded from Lead creation.
type Patient struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	ClinicID    string    `json:"clinic_id" gorm:"column:clinic_id;uniqueIndex:idx_patients_clinic_patient;type:text" validate:"required"`
	PatientID   string    `json:"patient_id" gorm:"column:patient_id;uniqueIndex:idx_patients_clinic_patient;type:text" validate:"required"`
	PhoneNumber string    `json:"phone_number,omitempty" gorm:"column:phone_number;index;type:text"`
	Name        string    `json:"name,omitempty" gorm:"column:name;type:text"`
	CreatedAt   time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Patient model, respecting the Namer.
func (Patient) TableName(namer schema.Namer) string {
	return namer.TableName("patients")
}
