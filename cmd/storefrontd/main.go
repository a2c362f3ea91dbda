// Command storefrontd keeps a vendor storefront usable without connectivity.
// It mirrors reference data locally, queues product submissions and write
// requests durably, and delivers them once the commerce backend is reachable.
// The host shell drives it over a loopback control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vendorhub/storefront/internal/application/refsync"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/cache"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"github.com/vendorhub/storefront/internal/infrastructure/connectivity"
	"github.com/vendorhub/storefront/internal/infrastructure/lease"
	"github.com/vendorhub/storefront/internal/infrastructure/logger"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence"
	"github.com/vendorhub/storefront/internal/infrastructure/queue"
	"github.com/vendorhub/storefront/internal/infrastructure/storage"
	"github.com/vendorhub/storefront/internal/infrastructure/telemetry"
	"github.com/vendorhub/storefront/internal/interfaces/http/handler"
	"github.com/vendorhub/storefront/internal/interfaces/http/middleware"
	"github.com/vendorhub/storefront/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to config file (default: ./config.toml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting storefront daemon",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("addr", cfg.HTTP.Addr),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("Daemon failed", zap.Error(err))
	}
	log.Info("Daemon exited gracefully")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	otelCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, otelCfg, log)
	if err != nil {
		return err
	}
	metricsCfg := otelCfg
	metricsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled
	meterProvider, err := telemetry.NewMeterProvider(ctx, metricsCfg, cfg.Telemetry.MetricsInterval, log)
	if err != nil {
		return err
	}
	logsCfg := otelCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		for _, p := range []interface{ Shutdown(context.Context) error }{tracerProvider, meterProvider, loggerProvider} {
			if err := p.Shutdown(shutdownCtx); err != nil {
				log.Warn("Telemetry shutdown failed", zap.Error(err))
			}
		}
	}()
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log = loggerProvider.Bridge(log, cfg.Telemetry.ServiceName, level)

	// Local store
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	dbSystem := cfg.Database.Driver
	if dbSystem == "postgres" {
		dbSystem = "postgresql"
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, log); err != nil {
		return fmt.Errorf("failed to enable database tracing: %w", err)
	}
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	uploadRepo := persistence.NewGormUploadJobRepository(db.DB)
	mutationRepo := persistence.NewGormMutationRepository(db.DB)
	metrics, err := telemetry.NewQueueMetrics(meterProvider.Meter(),
		func(ctx context.Context) (int64, int64, int64, error) {
			counts, err := uploadRepo.CountByStatus(ctx)
			return counts[offline.UploadStatusPending], counts[offline.UploadStatusProcessing], counts[offline.UploadStatusFailed], err
		},
		mutationRepo.Count,
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = metrics.Close()
	}()

	// Optional redis for the cache and leases
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			_ = client.Close()
		}()
		redisClient = client
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	owner := lease.NewOwnerID()
	var locker lease.Locker
	if redisClient != nil {
		locker = lease.NewRedisLocker(redisClient, "", owner)
	} else {
		locker = lease.NewGormLocker(db.DB, owner)
	}

	cacheBackend, err := cache.NewBackend(cfg.Cache, db.DB, redisClient, log)
	if err != nil {
		return fmt.Errorf("failed to create cache backend: %w", err)
	}
	cacheManager := cache.NewManager(cacheBackend, cache.WithLogger(log))

	// Connectivity
	monitorOpts := []connectivity.Option{connectivity.WithLogger(log)}
	if cfg.Connectivity.CheckURL != "" {
		monitorOpts = append(monitorOpts, connectivity.WithHealthCheck(
			cfg.Connectivity.CheckURL, cfg.Connectivity.CheckInterval, cfg.Connectivity.CheckTimeout))
	}
	if cfg.Connectivity.StartOffline {
		monitorOpts = append(monitorOpts, connectivity.StartOffline())
	}
	monitor := connectivity.NewMonitor(monitorOpts...)

	// Commerce backend and the mutation queue
	client := commerce.NewClient(cfg.Commerce, commerce.WithClientLogger(log))
	mutations := queue.NewOfflineQueue(
		mutationRepo,
		client,
		queue.WithReflushBackoff(cfg.Commerce.ReflushBaseDelay, cfg.Commerce.ReflushMaxDelay),
		queue.WithFlushObserver(func(ctx context.Context, r offline.ProcessResult) {
			metrics.RecordReplays(ctx, r.Succeeded, r.Failed)
		}),
		queue.WithOfflineLogger(log),
	)
	mutations.Register(monitor)
	defer func() {
		_ = mutations.Close()
	}()

	fetcher := commerce.NewFetcher(client, cfg.Commerce,
		commerce.WithCache(cacheManager),
		commerce.WithMutationQueue(mutations),
		commerce.WithConnectivity(monitor),
		commerce.WithFetcherLogger(log),
	)

	// Upload queue
	var attachments storage.AttachmentStore
	if cfg.Storage.Enabled {
		s3Store, err := storage.NewS3AttachmentStore(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return fmt.Errorf("failed to create attachment store: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare attachment bucket: %w", err)
		}
		attachments = s3Store
	}

	uploads := queue.NewUploadQueue(
		uploadRepo,
		client,
		queue.WithUploadConfig(queue.UploadQueueConfig{
			MaxRetries:           cfg.Upload.MaxRetries,
			RescheduleInterval:   cfg.Upload.RescheduleInterval,
			SubmitTimeout:        cfg.Upload.SubmitTimeout,
			StaleProcessingAfter: cfg.Upload.StaleProcessingAfter,
			LeaseTTL:             cfg.Upload.LeaseTTL,
		}),
		queue.WithCodec(queue.NewPayloadCodec(attachments, cfg.Upload.SpillThreshold, log)),
		queue.WithLocker(locker),
		queue.WithSignals(monitor),
		queue.WithDrainObserver(func(ctx context.Context, r queue.DrainResult) {
			metrics.RecordUploads(ctx, r.Succeeded, r.Retrying, r.Failed)
		}),
		queue.WithUploadLogger(log),
	)
	uploads.OnComplete(func(c queue.UploadCompletion) {
		log.Info("Upload delivered", zap.Int64("job_id", c.JobID), zap.String("server_id", c.ServerID))
	})
	if err := uploads.Start(ctx); err != nil {
		return fmt.Errorf("failed to start upload queue: %w", err)
	}

	// Reference data
	store := persistence.NewLocalDataStore(db.DB, persistence.WithStaleAfter(cfg.Sync.StaleAfter))
	table, err := loadAttributeTable(cfg.Sync.AttributeMapFile)
	if err != nil {
		return err
	}
	syncService := refsync.NewDataSyncService(fetcher, store,
		refsync.WithAttributeTable(table),
		refsync.WithLocker(locker, cfg.Sync.LeaseTTL),
		refsync.WithRunObserver(func(ctx context.Context, synced bool, err error) {
			metrics.RecordSync(ctx, syncOutcome(synced, err))
		}),
		refsync.WithLogger(log),
	)

	// Background loops
	go monitor.Run(ctx)
	go syncService.Run(ctx, cfg.Sync.CheckInterval)
	if monitor.IsOnline() {
		go func() {
			if _, err := mutations.ProcessAll(ctx); err != nil {
				log.Warn("Initial mutation flush failed", zap.Error(err))
			}
		}()
	}

	// Control API
	engine := router.NewEngine(log, cfg.HTTP.MaxBodySize,
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		}),
		middleware.SpanErrorMarker(),
	)
	systemHandler := handler.NewSystemHandler(db, monitor, cfg.App.Name, version)
	engine.GET("/health", systemHandler.Health)

	router.NewRouter(engine).
		Register(systemHandler).
		Register(handler.NewUploadHandler(uploads)).
		Register(handler.NewSyncHandler(syncService, handler.WithSyncLogger(log))).
		Register(handler.NewReferenceHandler(store)).
		Register(handler.NewMutationHandler(mutations, cacheManager)).
		Register(handler.NewRequestHandler(fetcher)).
		Register(handler.NewSignalHandler(monitor)).
		Setup()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Control API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("control API failed: %w", err)
		}
	}
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Control API forced to shutdown", zap.Error(err))
	}
	if err := uploads.Stop(shutdownCtx); err != nil {
		log.Error("Upload queue did not stop in time", zap.Error(err))
	}
	return nil
}

func syncOutcome(synced bool, err error) string {
	switch {
	case errors.Is(err, shared.ErrSyncInProgress), errors.Is(err, shared.ErrLeaseHeld):
		return "skipped"
	case err != nil:
		return "error"
	case synced:
		return "synced"
	default:
		return "fresh"
	}
}

// loadAttributeTable reads the category attribute table, falling back to
// the built-in one when no file is configured.
func loadAttributeTable(path string) (reference.AttributeTable, error) {
	if path == "" {
		return reference.DefaultAttributeTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attribute map: %w", err)
	}
	defer f.Close()
	return reference.LoadAttributeTable(f)
}
