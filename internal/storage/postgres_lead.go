package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Lead Repository Methods ---

// FindLeadByPhone finds a lead by its phone number.
func (r *PostgresRepo) FindLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var lead model.Lead
	operation := func() error {
		result := r.db.WithContext(ctx).Where("clinic_id = ? AND phone_number = ?", clinicID, phone).First(&lead)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: lead phone %s: %w", apperrors.ErrNotFound, phone, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindLeadByPhone", operation)
	observer.ObserveDbOperationDuration("find_by_phone", "lead", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find lead by phone after retries",
			zap.String("phone", phone),
			zap.String("clinic_id", clinicID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &lead, nil
}

// GetOrCreateLead returns the lead for the phone, creating a fresh one in
// status new when none exists. A creation race resolves by re-reading the
// winner's row.
func (r *PostgresRepo) GetOrCreateLead(ctx context.Context, phone, source string) (*model.Lead, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: phone number cannot be empty", apperrors.ErrBadRequest)
	}

	existing, err := r.FindLeadByPhone(ctx, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	lead := model.Lead{
		ID:          uuid.New().String(),
		ClinicID:    clinicID,
		PhoneNumber: phone,
		Status:      defaultLeadStatus,
		Source:      source,
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&lead).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	createErr := retryableOperation(ctx, commitPolicy, "GetOrCreateLead", operation)
	observer.ObserveDbOperationDuration("create", "lead", clinicID, time.Since(startTime), createErr)

	if createErr != nil {
		if apperrors.IsDuplicateError(createErr) {
			return r.FindLeadByPhone(ctx, phone)
		}
		logger.FromContext(ctx).Error("Failed to create lead after retries",
			zap.String("phone", phone),
			zap.Error(createErr))
		return nil, createErr
	}
	return &lead, nil
}

// UpdateLead persists lead changes under a row lock so concurrent
// transitions serialize instead of overwriting each other.
func (r *PostgresRepo) UpdateLead(ctx context.Context, lead model.Lead) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if clinicID != lead.ClinicID {
		return fmt.Errorf("%w: lead ClinicID %s does not match clinic ID %s", apperrors.ErrBadRequest, lead.ClinicID, clinicID)
	}
	lead.UpdatedAt = utils.Now()

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.Lead
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("clinic_id = ? AND phone_number = ?", lead.ClinicID, lead.PhoneNumber).
			First(&existing)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: lead not found for update (phone: %s): %w", apperrors.ErrNotFound, lead.PhoneNumber, result.Error)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock lead row: %w", apperrors.ErrDatabase, result.Error)
			return txErr
		}

		if updateErr := tx.Model(&existing).Updates(lead).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit lead update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateLead Commit", operation)
	observer.ObserveDbOperationDuration("update", "lead", clinicID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update lead after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// defaultLeadStatus is the funnel entry stage for freshly created leads.
const defaultLeadStatus = "new"
