// Package dlqworker drains the dead-letter stream: parked events are
// re-routed through the normal event router after a backoff, and events that
// keep failing are persisted for operator review.
package dlqworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/ingestion"
	internal_js "gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

const (
	maxRetries        = 5
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	taskTimeout       = 1 * time.Minute
)

// Worker processes messages parked on the DLQ stream.
type Worker struct {
	cfg    *config.Config
	logger *zap.Logger
	js     internal_js.ClientInterface
	pool   *ants.Pool
	router ingestion.RouterInterface
	store  storage.ExhaustedEventRepo
	msgCh  chan *nats.Msg
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a DLQ worker and sets up its stream and pull consumer.
func NewWorker(cfg *config.Config, log *zap.Logger, jsClient internal_js.ClientInterface, router ingestion.RouterInterface, exhaustedRepo storage.ExhaustedEventRepo) (*Worker, error) {
	pool, err := ants.NewPool(cfg.NATS.DLQWorkers,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	setupCtx := context.Background()
	dlqStreamName := cfg.NATS.DLQStream
	dlqSubject := cfg.NATS.DLQSubject + ".>"
	dlqSubjectCleaned := strings.ReplaceAll(cfg.NATS.DLQSubject, ".", "_")
	dlqDurableName := fmt.Sprintf("%s_worker_consumer", dlqSubjectCleaned)

	dlqMaxAge := time.Duration(cfg.NATS.DLQMaxAgeDays) * 24 * time.Hour
	dlqStreamCfg := &nats.StreamConfig{
		Name:      dlqStreamName,
		Subjects:  []string{dlqSubject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    dlqMaxAge,
	}
	if err := jsClient.SetupStream(setupCtx, dlqStreamCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ stream '%s': %w", dlqStreamName, err)
	}
	log.Info("DLQ stream setup complete", zap.String("stream", dlqStreamName))

	dlqConsumerCfg := &nats.ConsumerConfig{
		Durable:       dlqDurableName,
		FilterSubject: dlqSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.NATS.DLQMaxDeliver,
		AckWait:       cfg.NATS.DLQAckWait,
		MaxAckPending: cfg.NATS.DLQMaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := jsClient.SetupConsumer(setupCtx, dlqStreamName, dlqConsumerCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", dlqDurableName, dlqStreamName, err)
	}
	log.Info("DLQ consumer setup complete", zap.String("consumer", dlqDurableName))

	worker := &Worker{
		cfg:    cfg,
		logger: log.Named("dlq_worker"),
		js:     jsClient,
		pool:   pool,
		router: router,
		store:  exhaustedRepo,
		msgCh:  make(chan *nats.Msg, defaultMsgChanCap),
	}
	worker.logger.Info("DLQ worker initialized", zap.Int("pool_size", cfg.NATS.DLQWorkers))
	return worker, nil
}

// Start runs the fetch and dispatch loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting DLQ worker...")

	dlqSubjectCleaned := strings.ReplaceAll(w.cfg.NATS.DLQSubject, ".", "_")
	durableName := fmt.Sprintf("%s_worker_consumer", dlqSubjectCleaned)
	subSubject := fmt.Sprintf("%s.>", w.cfg.NATS.DLQSubject)

	sub, err := w.js.SubscribePull(w.cfg.NATS.DLQStream, subSubject, durableName)
	if err != nil {
		w.logger.Error("Failed to create DLQ pull subscription", zap.Error(err))
		cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(1)
	go w.fetchMessages(derivedCtx, sub)

	w.stopWg.Add(1)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("DLQ worker started")

	<-derivedCtx.Done()
	w.logger.Info("DLQ worker context cancelled, shutting down...")
	return nil
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.logger.Info("Stopping DLQ worker...")
	if w.cancel != nil {
		w.cancel()
	}

	w.stopWg.Wait()
	close(w.msgCh)
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

// fetchMessages pulls batches from the DLQ consumer into msgCh.
func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()
	w.logger.Info("Starting DLQ fetcher loop...")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Fetcher loop stopping due to context cancellation")
			return
		default:
			observer.IncDlqFetchRequest()
			msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
			if err != nil {
				if err == context.Canceled || err == nats.ErrTimeout || err == nats.ErrConnectionClosed {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				observer.IncDlqFetchError()
				w.logger.Error("Fetcher loop error retrieving messages", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, msg := range msgs {
				select {
				case w.msgCh <- msg:
				case <-ctx.Done():
					w.logger.Info("Fetcher loop stopping while sending to channel")
					return
				}
			}
		}
	}
}

// dispatchMessages submits fetched messages to the worker pool.
func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()
	w.logger.Info("Starting DLQ dispatcher loop...")

	for {
		observer.SetDlqQueueLength(len(w.msgCh))
		observer.SetDlqWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			w.logger.Info("Dispatcher loop stopping due to context cancellation")
			return
		case msg, ok := <-w.msgCh:
			if !ok {
				w.logger.Info("Message channel closed, dispatcher loop stopping")
				return
			}
			currentMsg := msg
			err := w.pool.Submit(func() {
				taskCtx, taskCancel := context.WithTimeout(context.Background(), taskTimeout)
				defer taskCancel()
				w.handleWithRetry(taskCtx, currentMsg)
			})
			if err != nil {
				w.logger.Error("Failed to submit task to ants pool", zap.Error(err))
				if nakErr := currentMsg.NakWithDelay(5 * time.Second); nakErr != nil {
					w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
					var tempPayload model.DLQPayload
					_ = json.Unmarshal(currentMsg.Data, &tempPayload)
					observer.IncDlqAckFailure(tempPayload.Clinic)
				}
			} else {
				var tempPayload model.DLQPayload
				_ = json.Unmarshal(currentMsg.Data, &tempPayload)
				observer.IncDlqTasksSubmitted(tempPayload.Clinic)
			}
		}
	}
}

// handleWithRetry re-routes one DLQ message through the event router. Events
// past maxRetries are persisted as exhausted and terminated.
func (w *Worker) handleWithRetry(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()
	var clinicID string
	defer func() {
		observer.ObserveDlqProcessingDuration(clinicID, time.Since(startTime))
	}()

	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to get message metadata", zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after metadata error", zap.Error(termErr))
		}
		observer.IncDlqAckFailure(clinicID)
		return
	}

	var payload model.DLQPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload",
			zap.Error(err),
			zap.Uint64("sequence", meta.Sequence.Stream),
			zap.String("subject", msg.Subject),
		)
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after unmarshal error", zap.Error(termErr))
		}
		observer.IncDlqAckFailure(clinicID)
		return
	}
	clinicID = payload.Clinic

	w.logger.Info("Processing DLQ message",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("stream_sequence", meta.Sequence.Stream),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Uint64("payload_retry_count", payload.RetryCount),
	)

	routerMetadata := &model.EventMetadata{
		Source:           model.SourceBus,
		EventID:          fmt.Sprintf("dlq-%d", meta.Sequence.Stream),
		Subject:          payload.SourceSubject,
		ClinicID:         payload.Clinic,
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		Timestamp:        meta.Timestamp,
	}
	handlerCtx := tenant.WithClinicID(ctx, payload.Clinic)
	handlerCtx = logger.WithLogger(handlerCtx, w.logger.With(
		zap.String("original_subject", payload.SourceSubject),
		zap.String("dlq_clinic", payload.Clinic),
	))

	processingErr := w.router.Route(handlerCtx, routerMetadata, payload.OriginalPayload)
	if processingErr == nil {
		w.logger.Info("Successfully processed event from DLQ",
			zap.String("source_subject", payload.SourceSubject),
			zap.Uint64("attempt", meta.NumDelivered),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK successfully processed message", zap.Error(ackErr))
			observer.IncDlqAckFailure(payload.Clinic)
		} else {
			observer.IncDlqAckSuccess(payload.Clinic)
		}
		return
	}

	w.logger.Warn("Failed to process event from DLQ",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Error(processingErr),
	)

	if payload.RetryCount >= maxRetries {
		w.parkExhausted(ctx, msg, payload, processingErr)
		return
	}

	delay := calculateBackoffDelay(int(meta.NumDelivered), w.cfg.NATS.DLQBaseDelayMinutes, w.cfg.NATS.DLQMaxDelayMinutes)
	w.logger.Info("Retrying DLQ message with backoff",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("attempt", meta.NumDelivered),
		zap.Duration("delay", delay),
	)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		w.logger.Error("Failed to NAK message with delay", zap.Error(nakErr))
		observer.IncDlqAckFailure(payload.Clinic)
	} else {
		observer.IncDlqTaskRetry(payload.Clinic)
	}
}

// parkExhausted persists an event that exceeded its retry budget and
// terminates the message so it never redelivers.
func (w *Worker) parkExhausted(ctx context.Context, msg *nats.Msg, payload model.DLQPayload, processingErr error) {
	w.logger.Warn("Max retries exceeded, persisting to exhausted store",
		zap.String("source_subject", payload.SourceSubject),
		zap.Int("retry_count", int(payload.RetryCount)),
	)

	exhaustedEvent := model.ExhaustedEvent{
		ClinicID:        payload.Clinic,
		SourceSubject:   payload.SourceSubject,
		LastError:       processingErr.Error(),
		RetryCount:      int(payload.RetryCount),
		EventTimestamp:  payload.Timestamp,
		DLQPayload:      datatypes.JSON(msg.Data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}

	saveCtx := tenant.WithClinicID(ctx, payload.Clinic)
	if saveErr := w.store.Save(saveCtx, exhaustedEvent); saveErr != nil {
		w.logger.Error("Failed to save exhausted event, terminating message anyway",
			zap.Error(saveErr),
			zap.String("source_subject", payload.SourceSubject),
		)
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after persistence failure", zap.Error(termErr))
		}
		observer.IncDlqAckFailure(payload.Clinic)
		return
	}

	if termErr := msg.Term(); termErr != nil {
		w.logger.Error("Failed to terminate message after max retries", zap.Error(termErr))
	}
	observer.IncDlqTasksDropped(payload.Clinic)
}

// calculateBackoffDelay doubles the base delay per delivery, capped.
func calculateBackoffDelay(retryCount int, baseDelayMinutes, maxDelayMinutes int) time.Duration {
	baseDelay := time.Duration(baseDelayMinutes) * time.Minute
	maxDelay := time.Duration(maxDelayMinutes) * time.Minute

	if retryCount <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(1<<uint(retryCount-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
