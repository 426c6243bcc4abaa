package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/ingestion/handler"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// EventServiceMock is a testify mock for handler.EventService.
type EventServiceMock struct {
	mock.Mock
}

var _ handler.EventService = (*EventServiceMock)(nil)

func (m *EventServiceMock) ProcessMessageEvent(ctx context.Context, ev model.CanonicalEvent, meta *model.LastMetadata) error {
	args := m.Called(ctx, ev, meta)
	return args.Error(0)
}

func (m *EventServiceMock) ProcessLabelEvent(ctx context.Context, ev model.CanonicalEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *EventServiceMock) ProcessPatientChange(ctx context.Context, clinicID string, ev model.DBTriggerEvent) error {
	args := m.Called(ctx, clinicID, ev)
	return args.Error(0)
}
