package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Patient Mirror Repository Methods ---

// UpsertPatient inserts or refreshes the patient mirror row keyed by
// (clinic_id, patient_id).
func (r *PostgresRepo) UpsertPatient(ctx context.Context, patient model.Patient) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if patient.ClinicID != clinicID {
		return fmt.Errorf("%w: patient ClinicID %s does not match clinic ID %s", apperrors.ErrBadRequest, patient.ClinicID, clinicID)
	}
	if patient.ID == "" {
		patient.ID = uuid.New().String()
	}
	patient.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "clinic_id"}, {Name: "patient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phone_number", "name", "updated_at"}),
		}).Create(&patient)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	upsertErr := retryableOperation(ctx, commitPolicy, "UpsertPatient", operation)
	observer.ObserveDbOperationDuration("upsert", "patient", clinicID, time.Since(startTime), upsertErr)

	if upsertErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert patient after retries",
			zap.String("patient_id", patient.PatientID),
			zap.Error(upsertErr))
		return upsertErr
	}
	return nil
}

// DeletePatient removes the mirror row for a patient deleted upstream. A
// missing row is not an error, the mirror may simply never have seen it.
func (r *PostgresRepo) DeletePatient(ctx context.Context, patientID string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("clinic_id = ? AND patient_id = ?", clinicID, patientID).
			Delete(&model.Patient{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	deleteErr := retryableOperation(ctx, commitPolicy, "DeletePatient", operation)
	observer.ObserveDbOperationDuration("delete", "patient", clinicID, time.Since(startTime), deleteErr)

	if deleteErr != nil {
		logger.FromContext(ctx).Error("Failed to delete patient after retries",
			zap.String("patient_id", patientID),
			zap.Error(deleteErr))
		return deleteErr
	}
	return nil
}

// IsPatientPhone reports whether the phone belongs to a known patient.
// Patient phones are excluded from lead creation.
func (r *PostgresRepo) IsPatientPhone(ctx context.Context, phone string) (bool, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if phone == "" {
		return false, nil
	}

	var count int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Patient{}).
			Where("clinic_id = ? AND phone_number = ?", clinicID, phone).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	countErr := retryableOperation(ctx, readPolicy, "IsPatientPhone", operation)
	observer.ObserveDbOperationDuration("count_by_phone", "patient", clinicID, time.Since(startTime), countErr)

	if countErr != nil {
		logger.FromContext(ctx).Error("Failed to check patient phone after retries",
			zap.String("phone", phone),
			zap.Error(countErr))
		return false, countErr
	}
	return count > 0, nil
}
