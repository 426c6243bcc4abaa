package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

func busMetadata(subject string) *model.EventMetadata {
	return &model.EventMetadata{
		Source:   model.SourceBus,
		EventID:  "evt-1",
		Subject:  subject,
		ClinicID: "clinic-test-123",
	}
}

func TestRoute_DispatchesToRegisteredHandler(t *testing.T) {
	router := NewRouter()

	var gotType model.EventType
	var gotPayload []byte
	router.Register(model.V1BusMessage, func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
		gotType = eventType
		gotPayload = rawEvent
		return nil
	})

	err := router.Route(context.Background(), busMetadata("v1.bus.message.clinic-test-123"), []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, model.V1BusMessage, gotType)
	assert.Equal(t, []byte(`{"x":1}`), gotPayload)
}

func TestRoute_EnrichesContextWithClinic(t *testing.T) {
	router := NewRouter()

	var gotClinic string
	router.Register(model.V1PlatformMessageCreated, func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
		gotClinic, _ = tenant.FromContext(ctx)
		return nil
	})

	err := router.Route(context.Background(), &model.EventMetadata{
		Source:   model.SourcePlatform,
		EventID:  "evt-2",
		Subject:  string(model.V1PlatformMessageCreated),
		ClinicID: "clinic-test-123",
	}, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "clinic-test-123", gotClinic)
}

func TestRoute_HandlerErrorPropagates(t *testing.T) {
	router := NewRouter()
	wantErr := errors.New("boom")
	router.Register(model.V1BusMessage, func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
		return wantErr
	})

	err := router.Route(context.Background(), busMetadata("v1.bus.message.clinic-test-123"), nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestRoute_UnknownTypeFallsBackToDefault(t *testing.T) {
	router := NewRouter()

	defaultCalled := false
	router.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
		defaultCalled = true
		return nil
	})

	err := router.Route(context.Background(), busMetadata("v9.something.else"), nil)
	require.NoError(t, err)
	assert.True(t, defaultCalled)
}

func TestRoute_UnknownTypeWithoutDefaultIsDropped(t *testing.T) {
	router := NewRouter()
	err := router.Route(context.Background(), busMetadata("v9.something.else"), nil)
	assert.NoError(t, err)
}
