package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Message Repository Methods ---

// InsertMessage persists a new message row. A replayed external message ID
// hits the partial unique index and surfaces as apperrors.ErrDuplicate, the
// caller treats that as an idempotent no-op.
func (r *PostgresRepo) InsertMessage(ctx context.Context, message model.Message) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if message.ClinicID != clinicID {
		return fmt.Errorf("%w: message ClinicID %s does not match clinic ID %s", apperrors.ErrBadRequest, message.ClinicID, clinicID)
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&message).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	createErr := retryableOperation(ctx, commitPolicy, "InsertMessage", operation)
	observer.ObserveDbOperationDuration("insert", "message", clinicID, time.Since(startTime), createErr)

	if createErr != nil {
		if apperrors.IsDuplicateError(createErr) {
			return createErr
		}
		logger.FromContext(ctx).Error("Failed to insert message after retries",
			zap.String("external_message_id", message.ExternalMessageID),
			zap.Error(createErr))
		return createErr
	}
	return nil
}

// FindMessageByExternalID finds a message by its platform message id.
func (r *PostgresRepo) FindMessageByExternalID(ctx context.Context, externalMessageID string) (*model.Message, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var message model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("clinic_id = ? AND external_message_id = ?", clinicID, externalMessageID).
			First(&message)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: external_message_id %s: %w", apperrors.ErrNotFound, externalMessageID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessageByExternalID", operation)
	observer.ObserveDbOperationDuration("find_by_external_id", "message", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find message by external ID after retries",
			zap.String("external_message_id", externalMessageID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &message, nil
}

// UpdateMessageStatus moves a message along its status lifecycle. Status is
// the only mutable column on a message row.
func (r *PostgresRepo) UpdateMessageStatus(ctx context.Context, externalMessageID, status string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("clinic_id = ? AND external_message_id = ?", clinicID, externalMessageID).
			Updates(map[string]interface{}{"status": status, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: external_message_id %s", apperrors.ErrNotFound, externalMessageID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "UpdateMessageStatus", operation)
	observer.ObserveDbOperationDuration("update_status", "message", clinicID, time.Since(startTime), updateErr)

	if updateErr != nil {
		if errors.Is(updateErr, apperrors.ErrNotFound) {
			return updateErr
		}
		logger.FromContext(ctx).Error("Failed to update message status after retries",
			zap.String("external_message_id", externalMessageID),
			zap.String("status", status),
			zap.Error(updateErr))
		return updateErr
	}
	return nil
}

// MarkMessageSent finalizes a locally queued message after the platform
// accepted it: status pending -> sent, and the platform message id is
// attached so later status updates can find the row.
func (r *PostgresRepo) MarkMessageSent(ctx context.Context, messageID, externalMessageID string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("clinic_id = ? AND id = ?", clinicID, messageID).
			Updates(map[string]interface{}{
				"status":              model.MessageSent,
				"external_message_id": externalMessageID,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "MarkMessageSent", operation)
	observer.ObserveDbOperationDuration("mark_sent", "message", clinicID, time.Since(startTime), updateErr)

	if updateErr != nil {
		logger.FromContext(ctx).Error("Failed to mark message sent",
			zap.String("message_id", messageID),
			zap.Error(updateErr))
		return updateErr
	}
	return nil
}

// FindMessagesByConversation lists a conversation's messages newest first.
func (r *PostgresRepo) FindMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var messages []model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("clinic_id = ? AND conversation_id = ?", clinicID, conversationID).
			Order("occurred_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&messages)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessagesByConversation", operation)
	observer.ObserveDbOperationDuration("find_by_conversation", "message", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find messages by conversation after retries",
			zap.String("conversation_id", conversationID),
			zap.Error(findErr))
		return nil, findErr
	}
	if messages == nil {
		return []model.Message{}, nil
	}
	return messages, nil
}
