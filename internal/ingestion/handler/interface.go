package handler

import (
	"context"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// EventService is the slice of the sync service the event handlers need.
type EventService interface {
	// ProcessMessageEvent records a normalized message and its side effects.
	ProcessMessageEvent(ctx context.Context, ev model.CanonicalEvent, meta *model.LastMetadata) error

	// ProcessLabelEvent applies label changes without recording a message.
	ProcessLabelEvent(ctx context.Context, ev model.CanonicalEvent) error

	// ProcessPatientChange mirrors a patient row change from the clinic database.
	ProcessPatientChange(ctx context.Context, clinicID string, ev model.DBTriggerEvent) error
}
