package ingestion

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// EventHandler processes one inbound event of a given type.
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error

// Router dispatches inbound events to a handler by event type. All three
// sources (platform webhook, automation bus, db trigger) converge here, so
// context enrichment with the clinic scope and a tagged logger happens in one
// place.
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for an event type.
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault registers a fallback handler for unknown event types.
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route routes an event to the appropriate handler.
func (r *Router) Route(ctx context.Context, metadata *model.EventMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("event_subject", metadata.Subject),
		zap.String("event_id", metadata.EventID),
		zap.String("event_source", metadata.Source),
		zap.String("clinic_id", metadata.ClinicID),
	)
	ctx = logger.WithLogger(ctx, log)

	if metadata.ClinicID != "" {
		ctx = tenant.WithClinicID(ctx, metadata.ClinicID)
	}

	eventType, found := model.MapToBaseEventType(metadata.Subject)
	if !found {
		log.Warn("Could not map subject to a known event type", zap.String("subject", metadata.Subject))
	}

	log.Info("Event received",
		zap.String("payload_size", utils.ByteCountSI(len(rawEvent))),
		zap.String("base_type", string(eventType.GetBaseType())),
	)

	handler, ok := r.handlers[eventType]
	if !ok {
		if r.defaultHandler != nil {
			log.Warn("No specific handler for event type, using default")
			return r.defaultHandler(ctx, eventType, metadata, rawEvent)
		}
		log.Error("No handler registered for event type")
		return nil
	}

	return handler(ctx, eventType, metadata, rawEvent)
}
