package ingestion

import (
	"context"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
)

// RouterInterface defines the interface for an event router
type RouterInterface interface {
	// Register registers a handler for an event type
	Register(eventType model.EventType, handler EventHandler)

	// RegisterDefault registers a default handler for unknown event types
	RegisterDefault(handler EventHandler)

	// Route routes an event to the appropriate handler
	Route(ctx context.Context, metadata *model.EventMetadata, rawEvent []byte) error
}

// ConsumerInterface defines the basic methods for a NATS consumer
type ConsumerInterface interface {
	// Setup sets up the JetStream stream and consumer
	Setup() error

	// Start starts the subscription
	Start() error

	// Stop stops the consumer
	Stop()
}

// Ensure implementations satisfy the interfaces
var _ RouterInterface = (*Router)(nil)
var _ ConsumerInterface = (*BusConsumer)(nil)
