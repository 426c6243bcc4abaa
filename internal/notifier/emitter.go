// Package notifier fans inbound-message alerts out to the clinic staff: each
// notification is persisted and published on NATS for UI subscribers.
// Delivery is best-effort by contract, a lost notification never blocks or
// fails the message pipeline.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

const emitTimeout = 10 * time.Second

// Emitter persists notifications and publishes them to the clinic's
// notification subject over a bounded worker pool.
type Emitter struct {
	pool          *ants.Pool
	notifications storage.NotificationRepo
	jsClient      jetstream.ClientInterface
	subject       string
	clinicID      string
}

// NewEmitter creates a notification emitter. subject is the base NATS
// subject; the clinic id is appended on publish.
func NewEmitter(cfg config.NotifierPoolConfig, notifications storage.NotificationRepo, jsClient jetstream.ClientInterface, subject, clinicID string) (*Emitter, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	// The pool is always nonblocking: Emit promises to never stall the
	// message pipeline, a saturated pool drops instead of queueing.
	opts := []ants.Option{
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(r interface{}) {
			logger.Log.Error("[panic] Recovered from panic in notifier pool",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}),
	}
	if cfg.ExpiryTime > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.ExpiryTime))
	}

	pool, err := ants.NewPool(poolSize, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier pool: %w", err)
	}

	return &Emitter{
		pool:          pool,
		notifications: notifications,
		jsClient:      jsClient,
		subject:       subject,
		clinicID:      clinicID,
	}, nil
}

// Emit schedules a notification for delivery. Never blocks and never
// reports failure to the caller; a full pool drops the notification with a
// metric instead of stalling the message pipeline.
func (e *Emitter) Emit(ctx context.Context, notification model.Notification) {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.ClinicID == "" {
		notification.ClinicID = e.clinicID
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = utils.Now()
	}

	log := logger.FromContext(ctx)

	err := e.pool.Submit(func() {
		taskCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		e.deliver(taskCtx, notification)
	})
	if err != nil {
		log.Warn("Notifier pool full, dropping notification",
			zap.String("conversation_id", notification.ConversationID),
			zap.Error(err),
		)
		observer.IncNotificationEmitted(notification.ClinicID, "dropped")
	}
}

// Close releases the worker pool.
func (e *Emitter) Close() {
	e.pool.Release()
}

func (e *Emitter) deliver(ctx context.Context, notification model.Notification) {
	log := logger.Log.With(
		zap.String("notification_id", notification.ID),
		zap.String("conversation_id", notification.ConversationID),
	)

	status := "emitted"

	saveCtx := tenant.WithClinicID(ctx, notification.ClinicID)
	if err := e.notifications.Save(saveCtx, notification); err != nil {
		log.Warn("Failed to persist notification", zap.Error(err))
		status = "save_failed"
	}

	data, err := json.Marshal(notification)
	if err != nil {
		log.Error("Failed to marshal notification", zap.Error(err))
		observer.IncNotificationEmitted(notification.ClinicID, "marshal_failed")
		return
	}

	subject := fmt.Sprintf("%s.%s", e.subject, notification.ClinicID)
	if err := e.jsClient.Publish(subject, data, nil); err != nil {
		log.Warn("Failed to publish notification",
			zap.String("subject", subject),
			zap.Error(err),
		)
		if status == "emitted" {
			status = "publish_failed"
		}
	}

	observer.IncNotificationEmitted(notification.ClinicID, status)
}
