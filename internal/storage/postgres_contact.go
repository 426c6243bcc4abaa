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

// --- Contact Repository Methods ---

// UpsertContactByPhone creates the contact for (clinic_id, phone_number) or
// enriches the existing row. The display name is only overwritten when the
// incoming name is richer: a non-empty name never gets replaced by an empty
// one or by the bare phone number.
func (r *PostgresRepo) UpsertContactByPhone(ctx context.Context, phone string, hints model.ContactHints) (*model.Contact, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: phone number cannot be empty", apperrors.ErrBadRequest)
	}

	var saved model.Contact
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

		var existing model.Contact
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("clinic_id = ? AND phone_number = ?", clinicID, phone).
			First(&existing)
		findErr := result.Error

		if findErr != nil {
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: failed to lock contact row: %w", apperrors.ErrDatabase, findErr)
				return txErr
			}

			contact := model.Contact{
				ID:          uuid.New().String(),
				ClinicID:    clinicID,
				PhoneNumber: phone,
				DisplayName: hints.DisplayName,
				AvatarURL:   hints.AvatarURL,
				ChannelType: hints.ChannelType,
			}
			if contact.DisplayName == "" {
				contact.DisplayName = phone
			}
			if createErr := tx.Create(&contact).Error; createErr != nil {
				txErr = checkConstraintViolation(createErr)
				return txErr
			}
			saved = contact
		} else {
			updates := map[string]interface{}{"updated_at": utils.Now()}
			if richerName(existing.DisplayName, hints.DisplayName, phone) {
				updates["display_name"] = hints.DisplayName
			}
			if hints.AvatarURL != "" && hints.AvatarURL != existing.AvatarURL {
				updates["avatar_url"] = hints.AvatarURL
			}
			if hints.ChannelType != "" && existing.ChannelType == "" {
				updates["channel_type"] = hints.ChannelType
			}
			if updateErr := tx.Model(&existing).Updates(updates).Error; updateErr != nil {
				txErr = checkConstraintViolation(updateErr)
				return txErr
			}
			saved = existing
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit upsert transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertContactByPhone Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "contact", clinicID, time.Since(startTime), commitErr)
	if commitErr != nil {
		// The loser of a first-contact race hits the unique index. Re-read
		// the winner's row instead of failing.
		if apperrors.IsDuplicateError(commitErr) {
			logger.FromContext(ctx).Debug("Contact upsert lost creation race, re-reading",
				zap.String("phone_number", phone))
			return r.FindContactByPhone(ctx, phone)
		}
		logger.FromContext(ctx).Error("Failed to upsert contact after retries", zap.Error(commitErr))
		return nil, commitErr
	}
	return &saved, nil
}

// richerName reports whether incoming should replace current. A real name
// beats an empty name or the bare phone number, nothing beats a real name.
func richerName(current, incoming, phone string) bool {
	if incoming == "" || incoming == current || incoming == phone {
		return false
	}
	return current == "" || current == phone
}

// FindContactByPhone finds a contact by its phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("clinic_id = ? AND phone_number = ?", clinicID, phone).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: phone %s: %w", apperrors.ErrNotFound, phone, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByPhone", operation)
	observer.ObserveDbOperationDuration("find_by_phone", "contact", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find contact by phone after retries",
			zap.String("phone", phone),
			zap.String("clinic_id", clinicID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// FindContactByID finds a contact by its ID.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ? AND clinic_id = ?", id, clinicID).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "contact", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find contact by ID after retries",
			zap.String("contact_id", id),
			zap.String("clinic_id", clinicID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}
