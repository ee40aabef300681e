package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/harvesting/health"
	"github.com/vietddude/harvester/internal/harvesting/importer"
	"github.com/vietddude/harvester/internal/harvesting/metrics"
	"github.com/vietddude/harvester/internal/harvesting/recovery"
	"github.com/vietddude/harvester/internal/infra/budget"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// Harvester is the main application struct wiring sources, storage,
// recovery and health reporting together.
type Harvester struct {
	cfg          *config.AppConfig
	sources      map[string]*source.Retrying
	order        []string
	importers    map[string]*importer.Importer
	records      storage.RecordRepository
	failures     storage.FailureRepository
	recovery     *recovery.Worker
	pruner       *recovery.Pruner
	quota        *budget.Tracker
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcHealth   *health.GRPCServer
	scheduler    gocron.Scheduler
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// New creates a Harvester with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig) (*Harvester, error) {
	h := &Harvester{
		cfg:       cfg,
		sources:   make(map[string]*source.Retrying),
		importers: make(map[string]*importer.Importer),
		quota:     budget.NewTracker(),
		log:       slog.Default(),
	}

	// 1. Initialize Storage
	if err := h.initStorage(ctx); err != nil {
		h.Close()
		return nil, err
	}

	// 2. Initialize Sources
	for _, sc := range cfg.Sources {
		src, err := source.New(sc, metrics.RetryObserver{}, h.quota)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to init source %s: %w", sc.Name, err)
		}
		h.sources[sc.Name] = src
		h.order = append(h.order, sc.Name)
		h.importers[sc.Name] = importer.New(src, h.records, h.failures)
	}

	// 3. Recovery
	handler := recovery.NewHandler(h.failures, h.reimport, cfg.Recovery.Strategy())
	h.recovery = recovery.NewWorker(handler, h.failures, h.order, cfg.Recovery)
	h.pruner = recovery.NewPruner(h.failures, cfg.Recovery.Retention)

	// 4. Health
	probes := make([]health.Probe, 0, len(h.order))
	for _, name := range h.order {
		probes = append(probes, h.sources[name])
	}
	deps := make(map[string]health.Checker)
	if h.db != nil {
		deps["postgres"] = h.db.Health
	}
	if h.redisClient != nil {
		deps["redis"] = h.redisClient.Health
	}
	h.healthMon = health.NewMonitor(probes, h.failures, deps)
	h.healthServer = health.NewServer(h.healthMon, cfg.Server.Port)
	if cfg.Server.GRPCPort > 0 {
		h.grpcHealth = health.NewGRPCServer(h.healthMon, cfg.Server.GRPCPort)
	}

	return h, nil
}

func (h *Harvester) initStorage(ctx context.Context) error {
	if h.cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, h.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		h.db = db

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		h.records = postgres.NewRecordRepo(db)
		h.failures = postgres.NewFailureRepo(db)
		h.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		h.records = memory.NewRecordRepo(store)
		h.failures = memory.NewFailureRepo(store)
		h.log.Info("Using Memory storage")
	}

	if h.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(h.cfg.Redis)
		if err != nil {
			h.log.Warn("Failed to connect to Redis, keeping local failure queue", "error", err)
			return nil
		}
		h.redisClient = client
		h.failures = redisclient.NewFailureRepo(client, "harvester")
		h.log.Info("Using Redis failure queue")
	}
	return nil
}

// Importer returns the importer of the named source.
func (h *Harvester) Importer(name string) (*importer.Importer, error) {
	imp, ok := h.importers[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return imp, nil
}

// Sources returns the named sources in configuration order, or all of them
// when no name is given.
func (h *Harvester) Sources(names ...string) ([]importer.Source, error) {
	if len(names) == 0 {
		names = h.order
	}
	out := make([]importer.Source, 0, len(names))
	for _, name := range names {
		src, ok := h.sources[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, src)
	}
	return out, nil
}

// Lookup queries the named sources (all when empty) and merges the results.
func (h *Harvester) Lookup(ctx context.Context, id string, names ...string) (*importer.LookupResult, error) {
	srcs, err := h.Sources(names...)
	if err != nil {
		return nil, err
	}
	return importer.Lookup(ctx, id, srcs...)
}

// Records returns the record repository.
func (h *Harvester) Records() storage.RecordRepository {
	return h.records
}

// Failures returns the failure repository.
func (h *Harvester) Failures() storage.FailureRepository {
	return h.failures
}

// Health returns the current health report.
func (h *Harvester) Health(ctx context.Context) health.HealthReport {
	return h.healthMon.CheckHealth(ctx)
}

// RetryFailures processes due failures of every source once.
func (h *Harvester) RetryFailures(ctx context.Context) {
	h.recovery.RunOnce(ctx)
}

func (h *Harvester) reimport(ctx context.Context, sourceName, externalID string) error {
	imp, err := h.Importer(sourceName)
	if err != nil {
		return err
	}
	return imp.Reimport(ctx, externalID)
}

// Start starts health servers, recovery and pruning workers and scheduled
// imports.
// It returns once everything is running.
func (h *Harvester) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := h.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Health server failed", "error", err)
		}
	}()

	if h.grpcHealth != nil {
		go func() {
			if err := h.grpcHealth.Start(); err != nil {
				h.log.Error("gRPC health server failed", "error", err)
			}
		}()
		go h.grpcHealth.Watch(ctx, 15*time.Second)
	}

	// Start DB Metrics Collector
	if h.db != nil {
		h.db.StartMetricsCollector(ctx)
	}

	go h.pruner.Start(ctx)

	go func() {
		if err := h.recovery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Error("Recovery worker failed", "error", err)
		}
	}()

	scheduler, err := h.schedule(ctx)
	if err != nil {
		return err
	}
	h.scheduler = scheduler

	h.log.Info("Harvester started", "sources", h.order, "scheduled", len(h.cfg.Schedule))
	return nil
}

// Stop stops servers and scheduled jobs.
func (h *Harvester) Stop(ctx context.Context) error {
	h.log.Info("Stopping Harvester...")

	var errs []error
	if h.scheduler != nil {
		if err := h.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if h.grpcHealth != nil {
		h.grpcHealth.Stop()
	}
	if err := h.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases sources and storage connections.
func (h *Harvester) Close() {
	for name, src := range h.sources {
		if err := src.Close(); err != nil {
			h.log.Warn("Failed to close source", "source", name, "error", err)
		}
	}
	if h.redisClient != nil {
		if err := h.redisClient.Close(); err != nil {
			h.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.log.Warn("Failed to close database", "error", err)
		}
	}
}
