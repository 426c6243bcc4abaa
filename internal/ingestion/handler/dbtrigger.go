package handler

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// DBTriggerHandler handles patient change events from the clinic database.
type DBTriggerHandler struct {
	service  EventService
	clinicID string
}

// NewDBTriggerHandler creates a handler for clinic-database trigger events.
func NewDBTriggerHandler(service EventService, clinicID string) *DBTriggerHandler {
	return &DBTriggerHandler{service: service, clinicID: clinicID}
}

// HandleEvent processes a patient change payload. Validation happens inside
// the service so parked DLQ replays hit the same checks.
func (h *DBTriggerHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	log := logger.FromContext(ctx)

	var payload model.DBTriggerEvent
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal db trigger event", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal db trigger event %s", metadata.EventID)
	}

	log.Info("Processing patient change",
		zap.String("change_type", payload.EventType),
		zap.String("patient_id", payload.PatientID),
	)
	return h.service.ProcessPatientChange(ctx, h.clinicID, payload)
}
