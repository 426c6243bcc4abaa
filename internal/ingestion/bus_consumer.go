package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// AckNakAction represents the decision made after processing a message.
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed successfully, ACK it
	ActionNak                          // terminal failure, NAK immediately
	ActionNakDelay                     // retryable error, NAK with calculated delay
	ActionDLQ                          // max retries reached or fatal error, publish to DLQ then ACK
)

// BusConsumer consumes automation-bus events from JetStream and feeds them
// through the event router. Delivery discipline: retryable errors NAK with
// exponential delay, fatal errors and exhausted deliveries go to the DLQ.
type BusConsumer struct {
	client        jetstream.ClientInterface
	router        RouterInterface
	cfg           config.ConsumerNatsConfig
	clinicID      string
	dlqSubject    string
	sub           *nats.Subscription
	filterSubject string
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewBusConsumer creates the automation-bus consumer. The durable name and
// queue group are already clinic-suffixed by the caller.
func NewBusConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.ConsumerNatsConfig, clinicID, dlqSubject string) *BusConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	scoped := logger.Log.With(zap.String("clinic_id", clinicID))
	ctx = logger.WithLogger(ctx, scoped)
	ctx = tenant.WithClinicID(ctx, clinicID)

	return &BusConsumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		clinicID:   clinicID,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// modifySubjects widens each base subject to a stream wildcard and narrows it
// to this clinic for the consumer filter.
func modifySubjects(subjects []string, clinicID string) (streamSubjects, consumerSubjects []string) {
	for _, subject := range subjects {
		streamSubjects = append(streamSubjects, fmt.Sprintf("%s.*", subject))
		consumerSubjects = append(consumerSubjects, fmt.Sprintf("%s.%s", subject, clinicID))
	}
	return streamSubjects, consumerSubjects
}

// determineAckNakAction decides the fate of a message from the processing
// result and delivery metadata.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionDLQ, 0
	}

	// Retryable with attempts remaining: exponential NAK delay.
	attempt := numDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// Setup configures the JetStream stream and durable consumer.
func (c *BusConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up BusConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour
	streamSubjects, consumerSubjects := modifySubjects(c.cfg.SubjectList, c.clinicID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup bus stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup bus stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: consumerSubjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	c.filterSubject = "v1.>"

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup bus consumer", zap.Error(err), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup bus consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("BusConsumer setup complete")
	return nil
}

// Start subscribes to the stream.
func (c *BusConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting BusConsumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.Subscribe(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe bus consumer", zap.Error(err),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe bus consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("BusConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription and cancels the consumer context.
func (c *BusConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping BusConsumer...", zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining bus subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("BusConsumer stopped")
}

// handleMessage is the per-message processing loop: map the subject, build
// metadata, route, then ACK/NAK/DLQ according to the outcome.
func (c *BusConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	var processingErr error

	defer func() {
		finalEventType, _ := model.MapToBaseEventType(msg.Subject)
		observer.ObserveEventProcessingDuration(string(finalEventType), c.clinicID, model.SourceBus, time.Since(startTime))

		if r := recover(); r != nil {
			log := logger.FromContext(c.ctx)
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(finalEventType), c.clinicID, model.SourceBus)
			observer.IncEventProcessingAction(string(finalEventType), c.clinicID, model.SourceBus, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	msgCtx := c.ctx
	log := logger.FromContext(msgCtx)

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}

	eventType, found := model.MapToBaseEventType(msg.Subject)
	if !found {
		log.Warn("Unknown event type", zap.String("subject", msg.Subject))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message for unknown event type", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_unknown_type", "unknown_event_type")
		return
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_metadata_error", "metadata")
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	internalMetadata := &model.EventMetadata{
		Source:           model.SourceBus,
		EventID:          msgID,
		Subject:          msg.Subject,
		ClinicID:         c.clinicID,
		ConsumerSequence: metadata.Sequence.Consumer,
		StreamSequence:   metadata.Sequence.Stream,
		NumDelivered:     metadata.NumDelivered,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		Timestamp:        metadata.Timestamp,
	}

	observer.IncEventsReceived(string(eventType), c.clinicID, model.SourceBus)

	msgCtx = logger.WithLogger(msgCtx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.String("subject", msg.Subject),
	))

	processingErr = c.router.Route(msgCtx, internalMetadata, msg.Data)

	enhancedLog := logger.FromContext(msgCtx)
	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), c.clinicID, model.SourceBus)
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNak:
		enhancedLog.Error("NAKing message immediately", zap.Error(processingErr))
		observer.IncEventsFailed(string(eventType), c.clinicID, model.SourceBus)
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_terminal", errorType)
		if nakErr := msg.Nak(); nakErr != nil {
			enhancedLog.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(string(eventType), c.clinicID, model.SourceBus)
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		c.publishToDLQ(msgCtx, msg, metadata, eventType, processingErr, errorType, msgID)
	}
}

// publishToDLQ parks a failed message on the DLQ stream and ACKs the
// original only when the park succeeded.
func (c *BusConsumer) publishToDLQ(ctx context.Context, msg *nats.Msg, metadata *nats.MsgMetadata, eventType model.EventType, processingErr error, errorType, msgID string) {
	log := logger.FromContext(ctx)

	isRetryable := apperrors.IsRetryable(processingErr)
	logReason := "max delivery attempts reached"
	if !isRetryable {
		logReason = "fatal error encountered"
	}
	log.Warn(fmt.Sprintf("Sending message to DLQ: %s", logReason),
		zap.Error(processingErr),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.Bool("is_retryable", isRetryable),
	)
	observer.IncEventsFailed(string(eventType), c.clinicID, model.SourceBus)

	errorTypeString := "fatal"
	if isRetryable {
		errorTypeString = "retryable"
	} else if !apperrors.IsFatal(processingErr) {
		log.Warn("Error reaching DLQ is not explicitly Fatal or Retryable, classifying as fatal", zap.Error(processingErr))
	}

	dlqPayload := model.DLQPayload{
		SourceSubject:   msg.Subject,
		Clinic:          c.clinicID,
		OriginalPayload: json.RawMessage(msg.Data),
		Error:           processingErr.Error(),
		ErrorType:       errorTypeString,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       utils.Now(),
	}

	dlqData, marshalErr := json.Marshal(dlqPayload)
	if marshalErr != nil {
		log.Error("Failed to marshal DLQ payload, NAKing original message", zap.Error(marshalErr))
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_dlq_marshal_fail", "dlq_marshal_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ marshal error", zap.Error(nakErr))
		}
		return
	}

	dlqHeaders := make(map[string]string)
	if msgID != "" {
		dlqHeaders["Original-Nats-Msg-Id"] = msgID
	}

	dlqFullSubject := fmt.Sprintf("%s.%s", c.dlqSubject, c.clinicID)
	if publishErr := c.client.Publish(dlqFullSubject, dlqData, dlqHeaders); publishErr != nil {
		log.Error("Failed to publish message to DLQ, NAKing original message",
			zap.Error(publishErr),
			zap.String("dlq_subject", dlqFullSubject),
		)
		observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "nak_dlq_publish_fail", "dlq_publish_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
		}
		return
	}

	log.Info("Message published to DLQ", zap.String("dlq_subject", dlqFullSubject))
	observer.IncEventProcessingAction(string(eventType), c.clinicID, model.SourceBus, "dlq_published_ack_success", errorType)
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
	}
}
