package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/ingestion"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/ingestion/handler"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// Processor wires the event router, the per-source handlers and the bus
// consumer together. Webhook deliveries reuse the same router through
// GetRouter, so every source funnels into identical handling.
type Processor struct {
	service     *SyncService
	jsClient    jetstream.ClientInterface
	busConsumer ingestion.ConsumerInterface
	eventRouter ingestion.RouterInterface
}

// NewProcessor creates a processor with all components wired up.
func NewProcessor(service *SyncService, jsClient jetstream.ClientInterface, cfg *config.Config, clinicID string) *Processor {
	router := ingestion.NewRouter()

	platformHandler := handler.NewPlatformHandler(service, clinicID)
	busHandler := handler.NewBusHandler(service)
	dbTriggerHandler := handler.NewDBTriggerHandler(service, clinicID)

	router.Register(model.V1PlatformMessageCreated, platformHandler.HandleEvent)
	router.Register(model.V1PlatformConversationUpdated, platformHandler.HandleEvent)
	router.Register(model.V1BusMessage, busHandler.HandleEvent)
	router.Register(model.V1DBTriggerPatient, dbTriggerHandler.HandleEvent)
	router.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.EventMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.Subject),
		)
		return nil
	})

	// The durable and queue group carry the clinic id so a redeployed
	// instance resumes the same consumer.
	busCfg := cfg.NATS.Bus
	busCfg.Consumer = busCfg.Consumer + clinicID
	busCfg.QueueGroup = busCfg.QueueGroup + clinicID
	busConsumer := ingestion.NewBusConsumer(jsClient, router, busCfg, clinicID, cfg.NATS.DLQSubject)

	return &Processor{
		service:     service,
		jsClient:    jsClient,
		busConsumer: busConsumer,
		eventRouter: router,
	}
}

// GetRouter returns the processor's event router for the webhook server and
// the DLQ worker to feed.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup configures the bus stream and consumer.
func (p *Processor) Setup() error {
	if err := p.busConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup bus consumer: %w", err)
	}
	logger.Log.Info("Processor setup complete")
	return nil
}

// Start begins consuming from the automation bus.
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.busConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start bus consumer: %w", err)
	}
	logger.Log.Info("Event processor started")
	return nil
}

// Stop stops the bus consumer.
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor...")
	p.busConsumer.Stop()
	logger.Log.Info("Event processor stopped")
}
