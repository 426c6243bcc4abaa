// Load generator for the clinic inbox sync service. Publishes fake
// automation-bus message events to NATS at a configurable rate so ingestion
// throughput and DLQ behavior can be exercised against a running instance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

const defaultBatchSize = 50

// batchTask is one unit of work for the publishing pool.
type batchTask struct {
	subject  string
	clinicID string
	count    int
	client   jetstream.ClientInterface
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subject := flag.String("subject", string(model.V1BusMessage), "Base NATS subject to publish on")
	rate := flag.Int("rate", 100, "Target messages per second")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent publish workers")
	clinicID := flag.String("clinic-id", cfg.Clinic.ID, "Clinic ID stamped into events and the subject suffix")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Messages per worker batch")
	outgoingPct := flag.Int("outgoing-pct", 20, "Percentage of events generated as outgoing automation messages")
	metricsPort := flag.Int("metrics-port", 9091, "Port for the Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Bus event load generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes fake automation-bus message events to NATS.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}
	if *outgoingPct < 0 || *outgoingPct > 100 {
		fmt.Println("outgoing-pct must be between 0 and 100")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *clinicID == "" {
		logger.Log.Fatal("clinic-id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(ctx, *metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	utils.SafeGo(func() {
		defer metricsWg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}, nil)

	logger.Log.Info("Starting bus event load generator",
		zap.String("nats_url", *natsURL),
		zap.String("subject", *subject),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.String("clinic_id", *clinicID),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	gofakeit.Seed(time.Now().UnixNano())

	var taskWg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer taskWg.Done()
		task, ok := data.(*batchTask)
		if !ok {
			logger.Log.Error("Invalid task type submitted to pool")
			return
		}
		publishBatch(task, *outgoingPct)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)
	go runLoadLoop(ctx, cancel, *rate, *duration, *batchSize, *subject, *clinicID, natsClient, pool, &taskWg, &loopWg)

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
	}

	loopWg.Wait()
	taskWg.Wait()
	metricsWg.Wait()

	logger.Log.Info("Load generator shutdown complete")
}

// runLoadLoop submits publish batches at the target rate until the duration
// elapses or the context is cancelled.
func runLoadLoop(ctx context.Context, cancel context.CancelFunc, rate int, duration time.Duration, batchSize int, subject, clinicID string, client jetstream.ClientInterface, pool *ants.PoolWithFunc, taskWg, loopWg *sync.WaitGroup) {
	defer loopWg.Done()
	defer cancel()

	batchesPerSecond := float64(rate) / float64(batchSize)
	if batchesPerSecond <= 0 {
		batchesPerSecond = 1
	}
	interval := time.Duration(float64(time.Second) / batchesPerSecond)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	submitted := 0
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load loop cancelled", zap.Int("batches_submitted", submitted))
			return
		case <-deadline.C:
			logger.Log.Info("Load duration elapsed", zap.Int("batches_submitted", submitted))
			return
		case <-ticker.C:
			task := &batchTask{
				subject:  subject,
				clinicID: clinicID,
				count:    batchSize,
				client:   client,
			}
			taskWg.Add(1)
			if err := pool.Invoke(task); err != nil {
				taskWg.Done()
				logger.Log.Warn("Failed to submit batch, pool saturated", zap.Error(err))
				continue
			}
			submitted++
		}
	}
}

// publishBatch generates and publishes one batch of fake bus events.
func publishBatch(task *batchTask, outgoingPct int) {
	subject := fmt.Sprintf("%s.%s", task.subject, task.clinicID)
	published := 0
	for i := 0; i < task.count; i++ {
		event := fakeBusEvent(task.clinicID, outgoingPct)
		data, err := json.Marshal(event)
		if err != nil {
			logger.Log.Error("Failed to marshal event", zap.Error(err))
			continue
		}

		headers := map[string]string{"Nats-Msg-Id": event.Message.MessageID}
		if err := task.client.Publish(subject, data, headers); err != nil {
			logger.Log.Warn("Publish failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
			continue
		}
		published++
	}
	logger.Log.Debug("Batch published",
		zap.String("subject", subject),
		zap.Int("published", published),
		zap.Int("requested", task.count),
	)
}

// fakeBusEvent builds a plausible automation-bus payload. Phone numbers are
// Brazilian mobile format so normalization paths get realistic input.
func fakeBusEvent(clinicID string, outgoingPct int) *model.BusEvent {
	event := &model.BusEvent{
		ClinicID:  clinicID,
		Channel:   "whatsapp",
		Timestamp: time.Now().Unix(),
	}
	event.Contact.Phone = fmt.Sprintf("55%02d9%08d", 11+rand.Intn(80), rand.Intn(100000000))
	event.Contact.Name = gofakeit.Name()
	event.Contact.ChannelType = "whatsapp"
	event.Message.MessageID = uuid.NewString()
	event.Message.Content = strings.TrimSpace(gofakeit.Sentence(3 + rand.Intn(10)))
	if rand.Intn(100) < outgoingPct {
		event.Message.MessageType = "outgoing"
	} else {
		event.Message.MessageType = "incoming"
	}
	return event
}

func startMetricsServer(ctx context.Context, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	utils.SafeGo(func() {
		logger.Log.Info("Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Metrics server error", zap.Error(err))
		}
	}, nil)
	return server
}
