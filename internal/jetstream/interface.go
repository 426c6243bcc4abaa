package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the JetStream surface the consumers, the notifier and
// the DLQ worker depend on. Kept as an interface for mocking.
type ClientInterface interface {
	// SetupStream ensures the stream exists with the given configuration.
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// SetupConsumer ensures the durable consumer exists on the stream.
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// Subscribe creates a durable queue subscription with explicit acks.
	Subscribe(subject, consumer, group string, handler nats.MsgHandler) (*nats.Subscription, error)

	// SubscribePull creates a pull-based subscription bound to an existing
	// durable consumer.
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)

	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error

	// Close closes the NATS connection.
	Close()

	// NatsConn returns the underlying *nats.Conn.
	NatsConn() *nats.Conn
}
