package handler

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/validator"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// BusHandler handles message events from the automation bus.
type BusHandler struct {
	service EventService
}

// NewBusHandler creates a handler for automation-bus events.
func NewBusHandler(service EventService) *BusHandler {
	return &BusHandler{service: service}
}

// HandleEvent processes an automation-bus message payload.
func (h *BusHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	log := logger.FromContext(ctx)

	var payload model.BusEvent
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal bus event", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal bus event %s", metadata.EventID)
	}
	if err := validator.Validate(payload); err != nil {
		log.Warn("Bus event failed validation", zap.Error(err))
		return apperrors.NewFatal(err, "invalid bus event %s", metadata.EventID)
	}

	ev := payload.Normalize()
	return h.service.ProcessMessageEvent(ctx, ev, metadata.ToLastMetadata())
}
