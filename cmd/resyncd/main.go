package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trackresync/internal/api"
	"trackresync/internal/config"
	"trackresync/internal/database"
	"trackresync/internal/domain"
	"trackresync/internal/events"
	"trackresync/internal/export"
	"trackresync/internal/logging"
	"trackresync/internal/metrics"
	"trackresync/internal/network"
	"trackresync/internal/reconcile"
	"trackresync/internal/repository"
	"trackresync/internal/service"
	"trackresync/internal/tracker"
	"trackresync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	extra, err := loadTrackers(trackersPath(), &logger)
	if err != nil {
		return err
	}
	if len(extra) > 0 {
		cfg.Trackers = append(cfg.Trackers, extra...)
		if err := config.ValidateTrackers(cfg.Trackers); err != nil {
			return fmt.Errorf("trackers: %w", err)
		}
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(&logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pending, err := buildPendingStore(cfg, db, redisClient, &logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := tracker.Build(ctx, cfg.Trackers, logging.Component(&logger, "tracker"))
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	reconciler := reconcile.New(pending, db.MangaTracks(), db.AnimeTracks(), registry,
		reconcile.WithConcurrency(cfg.Reconciler.Concurrency),
		reconcile.WithLogger(logging.Component(&logger, "reconciler")),
		reconcile.WithEventBus(bus),
	)

	monitor := network.NewMonitor(cfg.Network, bus, logging.Component(&logger, "network"))
	scheduler := worker.NewScheduler(reconciler, monitor, worker.RetryPolicy{
		MaxRetries:    cfg.Scheduler.MaxRetries,
		InitialDelay:  cfg.Scheduler.InitialBackoff,
		MaxDelay:      cfg.Scheduler.MaxBackoff,
		BackoffFactor: cfg.Scheduler.BackoffFactor,
	}, logging.Component(&logger, "scheduler"))

	metrics.SubscribeEvents(bus)
	bus.Subscribe(events.EventNetworkAvailable, func(*events.Event) error {
		scheduler.RequestRun(events.EventNetworkAvailable)
		return nil
	})

	progress := service.NewProgressService(pending, db.MangaTracks(), db.AnimeTracks(), registry,
		scheduler, bus, logging.Component(&logger, "progress"))

	startMetrics(ctx, cfg, &logger)
	go monitor.Start(ctx)
	go database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup")).Start(ctx)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Start(ctx); err != nil && !errors.Is(err, worker.ErrSchedulerStopped) {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	// Markers persisted before a restart are drained once the network is up.
	scheduler.RequestRun("startup")

	err = startServers(ctx, cfg, api.Deps{
		Pending:   pending,
		Scheduler: scheduler,
		Progress:  progress,
		Export:    export.NewPendingReport(pending),
		Logger:    logging.Component(&logger, "http"),
	}, scheduler, &logger)

	stop()
	<-schedulerDone
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "resyncd").Logger()

	return cfg, logger, closer, nil
}

func trackersPath() string {
	if p := os.Getenv("TRACKERS_PATH"); p != "" {
		return p
	}
	return "configs/trackers.yaml"
}

// loadTrackers reads additional tracker definitions. A missing file is not an error.
func loadTrackers(path string, logger *zerolog.Logger) ([]config.TrackerConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("trackers_path", path).Msg("read trackers")
		return nil, err
	}

	var trackersConfig struct {
		Trackers []config.TrackerConfig `yaml:"trackers"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &trackersConfig); err != nil {
		logger.Error().Err(err).Str("trackers_path", path).Msg("parse trackers")
		return nil, err
	}

	for i := range trackersConfig.Trackers {
		t := &trackersConfig.Trackers[i]
		t.Type = strings.ToLower(strings.TrimSpace(t.Type))
		if t.Type == "" {
			t.Type = config.TrackerTypeREST
		}
	}
	return trackersConfig.Trackers, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		// The failover store keeps retrying the primary, so the client is kept.
		logger.Warn().Err(err).Msg("redis connection failed, pending markers fall back to sqlite")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildPendingStore(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) (domain.PendingStore, error) {
	switch cfg.Pending.Backend {
	case config.BackendSQLite:
		return db.PendingMarkers(), nil
	case config.BackendMemory:
		logger.Warn().Msg("in-memory pending store: markers do not survive a restart")
		return repository.NewMemoryPendingStore(), nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, errors.New("pending.backend=redis requires redis.address")
		}
		primary := repository.NewRedisPendingStore(redisClient, cfg.Redis.Prefix)
		return repository.NewFailoverPendingStore(primary, db.PendingMarkers(), logging.Component(logger, "pending")), nil
	default:
		return nil, fmt.Errorf("unknown pending backend %q", cfg.Pending.Backend)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	deps api.Deps,
	scheduler *worker.Scheduler,
	logger *zerolog.Logger,
) error {
	var (
		grpcServer *api.GRPCServer
		httpServer *api.HTTPServer
	)

	if cfg.API.Enabled && cfg.API.GRPC.Enabled {
		srv, err := api.NewGRPCServer(cfg.API, logging.Component(logger, "grpc"))
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer = srv
		go grpcServer.WatchScheduler(ctx, scheduler.Active, time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, deps)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("http", httpServer != nil).
		Bool("grpc", grpcServer != nil).
		Msg("resync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("resync daemon stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
