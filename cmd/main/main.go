package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/config"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/dedup"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/dlqworker"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/healthcheck"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/ingestion"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/jetstream"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/notifier"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/offline"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/presence"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/usecase"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Clinic Inbox Sync",
		zap.String("environment", cfg.Environment),
		zap.String("clinic_id", cfg.Clinic.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	if cfg.Clinic.ID == "" {
		logger.Log.Fatal("clinic.id is required")
	}

	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Clinic.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	platformClient, err := platform.NewClient(
		cfg.Platform.BaseURL,
		cfg.Platform.AccessToken,
		cfg.Platform.AccountID,
		cfg.Platform.InboxID,
		cfg.Platform.Timeout,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize platform client", zap.Error(err))
	}

	// Repository adapters for the service layer
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	conversationRepo := storage.NewConversationRepoAdapter(postgresRepo)
	messageRepo := storage.NewMessageRepoAdapter(postgresRepo)
	leadRepo := storage.NewLeadRepoAdapter(postgresRepo)
	patientRepo := storage.NewPatientRepoAdapter(postgresRepo)
	notificationRepo := storage.NewNotificationRepoAdapter(postgresRepo)
	exhaustedEventRepo := storage.NewExhaustedEventRepoAdapter(postgresRepo)

	dedupCache := dedup.NewCache(cfg.Clinic.ID, cfg.Dedup.TTL, cfg.Dedup.SweepEvery, cfg.Dedup.MaxEntries)
	viewers := presence.NewTracker(cfg.Offline.PresenceTTL)
	leadService := usecase.NewLeadService(leadRepo, patientRepo)

	emitter, err := notifier.NewEmitter(
		cfg.WorkerPools.Notifier,
		notificationRepo,
		jsClient,
		cfg.NATS.NotificationSubject,
		cfg.Clinic.ID,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize notification emitter", zap.Error(err))
	}

	syncService := usecase.NewSyncService(
		contactRepo,
		conversationRepo,
		messageRepo,
		notificationRepo,
		leadService,
		dedupCache,
		viewers,
		emitter,
	)

	processor := usecase.NewProcessor(syncService, jsClient, cfg, cfg.Clinic.ID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient, processor.GetRouter(), exhaustedEventRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}

	// Offline outbound queue and connectivity monitor
	outboundQueue, err := offline.NewQueue(cfg.Database.QueuePath, cfg.Clinic.ID)
	if err != nil {
		logger.Log.Fatal("Failed to open outbound queue", zap.Error(err))
	}

	outbound := offline.NewOutbound(platformClient, messageRepo, conversationRepo, contactRepo, outboundQueue, cfg.Clinic.ID)
	monitor := offline.NewMonitor(outboundQueue, platformClient, outbound.ReplaySender(), cfg.Offline.ProbeEvery, cfg.Offline.ReplayEvery)
	if err := monitor.Start(); err != nil {
		logger.Log.Fatal("Failed to start connectivity monitor", zap.Error(err))
	}

	// Webhook + staff-facing HTTP server
	httpServer := ingestion.NewHTTPServer(
		processor.GetRouter(),
		syncService,
		platformClient,
		cfg.Clinic.ID,
		cfg.Server.WebhookToken,
		cfg.Server.Port,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)
	utils.SafeGo(func() {
		if err := httpServer.Start(); err != nil {
			logger.Log.Error("HTTP server error", zap.Error(err))
		}
	}, nil)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.HealthPort), logger.Log)
	healthServer.RegisterCheck("postgres", postgresRepo.Ping)
	healthServer.RegisterCheck("nats", func(ctx context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return fmt.Errorf("nats connection down")
		}
		return nil
	})
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.HealthPort))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed, initiating shutdown", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup

	shutdownStep := func(name string, stop func()) {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			logger.Log.Info("[shutdown] Stopping "+name)
			start := time.Now()
			stop()
			logger.Log.Info("[shutdown] Stopped "+name,
				zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			// The deferred wg.Done above already ran during unwinding.
			logger.Log.Error("[shutdown] Panic while stopping "+name,
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		})
	}

	shutdownStep("event processor", processor.Stop)
	shutdownStep("DLQ worker", dlqWorker.Stop)
	shutdownStep("connectivity monitor", monitor.Stop)
	shutdownStep("notification emitter", emitter.Close)
	shutdownStep("HTTP server", func() {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		}
	})
	shutdownStep("health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})
	shutdownStep("storage connections", func() {
		if err := outboundQueue.Close(); err != nil {
			logger.Log.Error("[shutdown] Failed to close outbound queue", zap.Error(err))
		}

		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		}

		jsClient.Close()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Clinic Inbox Sync shutdown complete")
}

func initPostgresRepo(dsn string, autoMigrate bool, clinicID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
