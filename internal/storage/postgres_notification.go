package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Notification Repository Methods ---

// SaveNotification persists a notification row. Emission is best-effort so
// callers log failures instead of propagating them.
func (r *PostgresRepo) SaveNotification(ctx context.Context, notification model.Notification) error {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if notification.ClinicID != clinicID {
		return fmt.Errorf("%w: notification ClinicID %s does not match clinic ID %s", apperrors.ErrBadRequest, notification.ClinicID, clinicID)
	}
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&notification).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	createErr := retryableOperation(ctx, commitPolicy, "SaveNotification", operation)
	observer.ObserveDbOperationDuration("save", "notification", clinicID, time.Since(startTime), createErr)

	if createErr != nil {
		logger.FromContext(ctx).Error("Failed to save notification after retries",
			zap.String("conversation_id", notification.ConversationID),
			zap.Error(createErr))
		return createErr
	}
	return nil
}

// FindRecentNotifications lists the newest notifications for the clinic.
func (r *PostgresRepo) FindRecentNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get clinic ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var notifications []model.Notification
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("clinic_id = ?", clinicID).
			Order("created_at DESC").
			Limit(limit).
			Find(&notifications)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindRecentNotifications", operation)
	observer.ObserveDbOperationDuration("find_recent", "notification", clinicID, time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find recent notifications after retries", zap.Error(findErr))
		return nil, findErr
	}
	if notifications == nil {
		return []model.Notification{}, nil
	}
	return notifications, nil
}
