package app

import (
	"context"
	"fmt"

	"github.com/veritrace/platform/internal/app/cache"
	anomalysvc "github.com/veritrace/platform/internal/app/services/anomaly"
	authsvc "github.com/veritrace/platform/internal/app/services/auth"
	catalogsvc "github.com/veritrace/platform/internal/app/services/catalog"
	ingestionsvc "github.com/veritrace/platform/internal/app/services/ingestion"
	ledgersvc "github.com/veritrace/platform/internal/app/services/ledger"
	pipelinesvc "github.com/veritrace/platform/internal/app/services/pipeline"
	qualitysvc "github.com/veritrace/platform/internal/app/services/quality"
	versioningsvc "github.com/veritrace/platform/internal/app/services/versioning"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/app/storage/memory"
	"github.com/veritrace/platform/internal/app/system"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation. Health is the probe the status endpoint pings;
// Cache is nil unless redis is configured.
type Stores struct {
	Runs     storage.RunStore
	Audit    storage.AuditStore
	Commits  storage.CommitStore
	Datasets storage.DatasetStore
	Reports  storage.ReportStore
	Tokens   storage.TokenStore

	Health pipelinesvc.Pinger
	Cache  cache.Cache
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	health  pipelinesvc.Pinger

	Cfg *config.Config

	Ingestion  *ingestionsvc.Service
	Quality    *qualitysvc.Service
	Anomaly    *anomalysvc.Service
	Ledger     *ledgersvc.Service
	Versioning *versioningsvc.Service
	Catalog    *catalogsvc.Service
	Pipeline   *pipelinesvc.Service
	Auth       *authsvc.Service
	Cache      cache.Cache
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Runs == nil {
		stores.Runs = mem
	}
	if stores.Audit == nil {
		stores.Audit = mem
	}
	if stores.Commits == nil {
		stores.Commits = mem
	}
	if stores.Datasets == nil {
		stores.Datasets = mem
	}
	if stores.Reports == nil {
		stores.Reports = mem
	}
	if stores.Tokens == nil {
		stores.Tokens = mem
	}
	if stores.Health == nil {
		stores.Health = mem
	}

	var cachePinger pipelinesvc.Pinger
	if stores.Cache == nil {
		stores.Cache = cache.Nop{}
	} else {
		cachePinger = stores.Cache
	}

	manager := system.NewManager()

	ingestionService := ingestionsvc.New(log)
	qualityService := qualitysvc.New(stores.Reports, cfg.Validation, log)
	anomalyService := anomalysvc.New(cfg.Anomaly, log)
	ledgerService := ledgersvc.New(stores.Audit, cfg.Ledger, log)
	versioningService := versioningsvc.New(stores.Commits, cfg.Versioning, log)
	catalogService := catalogsvc.New(stores.Datasets, log)
	authService := authsvc.New(stores.Tokens, cfg.Auth, log)

	pipelineService := pipelinesvc.New(stores.Runs, pipelinesvc.Deps{
		Ingestion:  ingestionService,
		Quality:    qualityService,
		Anomaly:    anomalyService,
		Ledger:     ledgerService,
		Versioning: versioningService,
		Catalog:    catalogService,
		Storage:    stores.Health,
		Cache:      cachePinger,
	}, cfg.Paths, log)

	for _, name := range []string{"ingestion", "quality", "anomaly", "ledger", "versioning", "catalog"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if len(cfg.Pipeline.Schedules) > 0 {
		scheduler := pipelinesvc.NewScheduler(pipelineService, cfg.Pipeline.Schedules, log)
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		health:     stores.Health,
		Cfg:        cfg,
		Ingestion:  ingestionService,
		Quality:    qualityService,
		Anomaly:    anomalyService,
		Ledger:     ledgerService,
		Versioning: versioningService,
		Catalog:    catalogService,
		Pipeline:   pipelineService,
		Auth:       authService,
		Cache:      stores.Cache,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Ready reports whether the backing store is reachable.
func (a *Application) Ready(ctx context.Context) error {
	return a.health.Ping(ctx)
}

// Start bootstraps the admin account when auth is enabled and begins all
// registered services.
func (a *Application) Start(ctx context.Context) error {
	if a.Cfg.Auth.Enabled {
		if err := a.Auth.EnsureAdmin(ctx); err != nil {
			return fmt.Errorf("bootstrap admin account: %w", err)
		}
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
