package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/validator"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// PlatformHandler handles webhook events from the conversation platform.
type PlatformHandler struct {
	service  EventService
	clinicID string
}

// NewPlatformHandler creates a handler for platform webhook events.
func NewPlatformHandler(service EventService, clinicID string) *PlatformHandler {
	return &PlatformHandler{service: service, clinicID: clinicID}
}

// HandleEvent processes a platform webhook payload routed by event type.
func (h *PlatformHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	log := logger.FromContext(ctx)

	var payload model.PlatformEvent
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal platform event", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal platform event %s", metadata.EventID)
	}
	if err := validator.Validate(payload); err != nil {
		log.Warn("Platform event failed validation", zap.Error(err))
		return apperrors.NewFatal(err, "invalid platform event %s", metadata.EventID)
	}

	switch eventType {
	case model.V1PlatformMessageCreated:
		ev := payload.Normalize(h.clinicID)
		return h.service.ProcessMessageEvent(ctx, ev, metadata.ToLastMetadata())

	case model.V1PlatformConversationUpdated:
		ev := payload.Normalize(h.clinicID)
		return h.service.ProcessLabelEvent(ctx, ev)

	default:
		log.Warn("Platform handler received unexpected event type", zap.String("event_type", string(eventType)))
		return apperrors.NewFatal(fmt.Errorf("unexpected event type %s", eventType), "platform handler cannot process event %s", metadata.EventID)
	}
}
