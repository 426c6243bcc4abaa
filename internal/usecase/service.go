package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/dedup"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/presence"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// NotificationEmitter is the best-effort alert sink the sync service hands
// inbound messages to. Implementations must never block the caller.
type NotificationEmitter interface {
	Emit(ctx context.Context, notification model.Notification)
}

// SyncService runs the inbound pipeline: identity resolution, conversation
// resolution, message recording, lead transitions and notification emission.
type SyncService struct {
	contactRepo      storage.ContactRepo
	conversationRepo storage.ConversationRepo
	messageRepo      storage.MessageRepo
	notificationRepo storage.NotificationRepo
	leads            *LeadService
	dedupCache       *dedup.Cache
	viewers          *presence.Tracker
	emitter          NotificationEmitter
}

// NewSyncService creates the sync service. The emitter may be nil, in which
// case notifications are skipped entirely.
func NewSyncService(
	contactRepo storage.ContactRepo,
	conversationRepo storage.ConversationRepo,
	messageRepo storage.MessageRepo,
	notificationRepo storage.NotificationRepo,
	leads *LeadService,
	dedupCache *dedup.Cache,
	viewers *presence.Tracker,
	emitter NotificationEmitter,
) *SyncService {
	return &SyncService{
		contactRepo:      contactRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		notificationRepo: notificationRepo,
		leads:            leads,
		dedupCache:       dedupCache,
		viewers:          viewers,
		emitter:          emitter,
	}
}

// validateEventClinic checks that the event's clinic id matches the clinic
// this deployment is scoped to.
func validateEventClinic(ctx context.Context, eventClinicID string) error {
	if eventClinicID == "" {
		return nil
	}

	clinicID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clinic ID: %w", err)
	}
	if eventClinicID != clinicID {
		return fmt.Errorf("event clinic (%s) does not match clinic ID (%s)", eventClinicID, clinicID)
	}
	return nil
}

// handleRepositoryError maps standard apperrors from the repository layer to
// FatalError or RetryableError for the pipeline. Fatal errors get dropped and
// acked by the ingress layer; retryable errors get redelivered.
func handleRepositoryError(ctx context.Context, err error, operation string, entityID string) error {
	if err == nil {
		return nil
	}

	log := logger.FromContext(ctx)
	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	if entityID != "" {
		logFields = append(logFields, zap.String("entity_id", entityID))
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Repository operation failed: Not found", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	}
	if errors.Is(err, apperrors.ErrDuplicate) {
		log.Warn("Repository operation failed: Duplicate resource", logFields...)
		return apperrors.NewFatal(err, "%s failed: duplicate resource", operation)
	}
	if errors.Is(err, apperrors.ErrBadRequest) {
		log.Warn("Repository operation failed: Bad request", logFields...)
		return apperrors.NewFatal(err, "%s failed: bad request data", operation)
	}
	if errors.Is(err, apperrors.ErrUnauthorized) {
		log.Error("Repository operation failed: Unauthorized", logFields...)
		return apperrors.NewFatal(err, "%s failed: unauthorized", operation)
	}
	if errors.Is(err, apperrors.ErrConflict) {
		log.Warn("Repository operation failed: Conflict", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource conflict", operation)
	}
	if errors.Is(err, apperrors.ErrDatabase) {
		log.Error("Repository operation failed: Database error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: database error", operation)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		log.Warn("Repository operation failed: Timeout", logFields...)
		return apperrors.NewRetryable(err, "%s failed: operation timeout", operation)
	}
	if errors.Is(err, apperrors.ErrNATS) {
		log.Error("Repository operation failed: NATS error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: NATS communication error", operation)
	}

	log.Error("Repository operation failed: Unexpected error", logFields...)
	return apperrors.NewFatal(err, "%s failed: unexpected repository error", operation)
}
