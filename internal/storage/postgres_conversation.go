package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Conversation Repository Methods ---

// FindOpenConversationByContact returns the contact's open conversation.
func (r *PostgresRepo) FindOpenConversationByContact(ctx context.Context, contactID string) (*model.Conversation, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var conversation model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("clinic_id = ? AND contact_id = ? AND status = ?", clinicID, contactID, model.ConversationOpen).
			First(&conversation)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: open conversation for contact %s: %w", apperrors.ErrNotFound, contactID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindOpenConversationByContact", operation)
	observer.ObserveDbOperationDuration("find_open", "conversation", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find open conversation after retries",
			zap.String("contact_id", contactID),
			zap.String("clinic_id", clinicID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &conversation, nil
}

// CreateOpenConversation creates an open conversation for the contact. When
// the partial unique index rejects the insert another writer won the race,
// so the winner's row is returned instead.
func (r *PostgresRepo) CreateOpenConversation(ctx context.Context, contactID, channelType string) (*model.Conversation, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	conversation := model.Conversation{
		ID:          uuid.New().String(),
		ClinicID:    clinicID,
		ContactID:   contactID,
		Status:      model.ConversationOpen,
		ChannelType: channelType,
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&conversation).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	createErr := retryableOperation(ctx, commitPolicy, "CreateOpenConversation", operation)
	observer.ObserveDbOperationDuration("create", "conversation", clinicID, time.Since(startTime), createErr)

	if createErr != nil {
		if apperrors.IsDuplicateError(createErr) {
			logger.FromContext(ctx).Debug("Conversation creation lost race, re-reading winner",
				zap.String("contact_id", contactID))
			return r.FindOpenConversationByContact(ctx, contactID)
		}
		logger.FromContext(ctx).Error("Failed to create conversation after retries", zap.Error(createErr))
		return nil, createErr
	}
	return &conversation, nil
}

// FindConversationByID finds a conversation by its ID.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var conversation model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ? AND clinic_id = ?", id, clinicID).First(&conversation)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: conversation_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversationByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "conversation", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find conversation by ID after retries",
			zap.String("conversation_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &conversation, nil
}

// RegisterMessageOnConversation bumps the conversation after a message write:
// last_message_at always moves forward, unread_count increments only for
// inbound messages.
func (r *PostgresRepo) RegisterMessageOnConversation(ctx context.Context, conversationID string, inbound bool, occurredAt time.Time) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	updates := map[string]interface{}{
		"last_message_at": occurredAt,
		"updated_at":      utils.Now(),
	}
	if inbound {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND clinic_id = ?", conversationID, clinicID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "RegisterMessageOnConversation", operation)
	observer.ObserveDbOperationDuration("register_message", "conversation", clinicID, time.Since(startTime), updateErr)

	if updateErr != nil {
		logger.FromContext(ctx).Error("Failed to register message on conversation after retries",
			zap.String("conversation_id", conversationID),
			zap.Error(updateErr))
		return updateErr
	}
	return nil
}

// ResetUnreadCount zeroes the unread counter after a mark-as-read.
func (r *PostgresRepo) ResetUnreadCount(ctx context.Context, conversationID string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND clinic_id = ?", conversationID, clinicID).
			Updates(map[string]interface{}{"unread_count": 0, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "ResetUnreadCount", operation)
	observer.ObserveDbOperationDuration("reset_unread", "conversation", clinicID, time.Since(startTime), updateErr)

	if updateErr != nil {
		if errors.Is(updateErr, apperrors.ErrNotFound) {
			return updateErr
		}
		logger.FromContext(ctx).Error("Failed to reset unread count after retries",
			zap.String("conversation_id", conversationID),
			zap.Error(updateErr))
		return updateErr
	}
	return nil
}

// ArchiveConversation moves a conversation to archived status.
func (r *PostgresRepo) ArchiveConversation(ctx context.Context, conversationID string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND clinic_id = ?", conversationID, clinicID).
			Updates(map[string]interface{}{"status": model.ConversationArchived, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "ArchiveConversation", operation)
	observer.ObserveDbOperationDuration("archive", "conversation", clinicID, time.Since(startTime), updateErr)

	if updateErr != nil {
		logger.FromContext(ctx).Error("Failed to archive conversation after retries",
			zap.String("conversation_id", conversationID),
			zap.Error(updateErr))
		return updateErr
	}
	return nil
}

// SetConversationExternalID stores the platform-side conversation id once
// the delivery subsystem learns it.
func (r *PostgresRepo) SetConversationExternalID(ctx context.Context, conversationID, externalID string) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND clinic_id = ?", conversationID, clinicID).
			Updates(map[string]interface{}{"external_id": externalID, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	updateErr := retryableOperation(ctx, commitPolicy, "SetConversationExternalID", operation)
	observer.ObserveDbOperationDuration("set_external_id", "conversation", clinicID, time.Since(startTime), updateErr)
	return updateErr
}
