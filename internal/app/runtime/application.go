package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiprof "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/veritrace/platform/internal/app"
	"github.com/veritrace/platform/internal/app/cache"
	"github.com/veritrace/platform/internal/app/httpapi"
	"github.com/veritrace/platform/internal/app/metrics"
	"github.com/veritrace/platform/internal/app/storage/postgres"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/internal/logging"
	"github.com/veritrace/platform/internal/middleware"
	"github.com/veritrace/platform/pkg/logger"
)

// Application wires configuration, stores, services and the HTTP
// listeners, and manages their lifecycle.
type Application struct {
	cfg      *config.Config
	log      *logger.Logger
	platform *app.Application
	handler  http.Handler
	api      *http.Server
	ops      *http.Server
	db       *sqlx.DB
	cache    *cache.Redis
}

// NewApplication constructs the platform from configuration. An empty
// configPath falls back to CONFIG_FILE or the default location.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig constructs the platform from an already loaded
// configuration.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var redisCache *cache.Redis
	if cfg.Redis.Enabled {
		redisCache = openCache(cfg, log)
		if redisCache != nil {
			stores.Cache = redisCache
		}
	}

	platform, err := app.New(cfg, stores, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("assemble services: %w", err)
	}

	handler := buildHandler(cfg, platform)

	a := &Application{
		cfg:      cfg,
		log:      log,
		platform: platform,
		handler:  handler,
		db:       db,
		cache:    redisCache,
		api: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		},
	}
	if addr := cfg.Server.OpsAddr(); addr != "" {
		a.ops = &http.Server{
			Addr:        addr,
			Handler:     opsHandler(),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 120 * time.Second,
		}
	}
	return a, nil
}

// Handler exposes the fully assembled API handler. Used by tests and by
// embedders that bring their own listener.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Platform exposes the wired service layer for in-process callers such
// as the pipeline CLI.
func (a *Application) Platform() *app.Application {
	return a.platform
}

// Run starts background services and the HTTP listeners, then blocks
// until the context is cancelled or a listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.platform.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Infof("API server listening on %s", a.api.Addr)
		if err := a.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if a.ops != nil {
		go func() {
			a.log.Infof("ops server listening on %s", a.ops.Addr)
			if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP listeners, stops services and closes the
// store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := a.api.Shutdown(shutdownCtx)
	if a.ops != nil {
		if opsErr := a.ops.Shutdown(shutdownCtx); opsErr != nil {
			a.log.WithError(opsErr).Warn("error shutting down ops server")
		}
	}
	if stopErr := a.platform.Stop(shutdownCtx); stopErr != nil {
		a.log.WithError(stopErr).Warn("error stopping services")
	}
	if a.cache != nil {
		if closeErr := a.cache.Close(); closeErr != nil {
			a.log.WithError(closeErr).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if closeErr := a.db.Close(); closeErr != nil {
			a.log.WithError(closeErr).Warn("error closing database connection")
		}
	}
	return err
}

// LoadConfig resolves configuration for a runtime. An explicit path
// wins; otherwise CONFIG_FILE and the default location apply. A .env
// file in the working directory is honoured either way.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	_ = godotenv.Load()
	return config.LoadFromPath(path)
}

// buildStores opens PostgreSQL when a DSN is configured. Without one the
// platform runs on in-memory stores, which app.New fills in for every
// nil field.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database.dsn not set; state is kept in memory and lost on restart")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := postgres.New(db)
	stores := app.Stores{
		Runs:     store,
		Audit:    store,
		Commits:  store,
		Datasets: store,
		Reports:  store,
		Tokens:   store,
		Health:   store,
	}
	return stores, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openCache connects to redis. An unreachable redis downgrades the
// platform to running without a cache instead of failing startup.
func openCache(cfg *config.Config, log *logger.Logger) *cache.Redis {
	c := cache.NewRedis(cfg.Redis, log)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		log.WithError(err).Warnf("redis %s unreachable; response cache disabled", cfg.Redis.Addr)
		c.Close()
		return nil
	}
	return c
}

// buildHandler stacks the middleware chain onto the REST router. Tracing
// runs outermost so every response carries a trace id, including those
// rejected by the rate limiter or the auth layer. CORS sits outside auth
// so preflight requests never need credentials.
func buildHandler(cfg *config.Config, platform *app.Application) http.Handler {
	httpLog := logging.New("http")

	var h http.Handler = httpapi.NewHandler(platform)
	if cfg.Auth.Enabled {
		h = middleware.NewAuthMiddleware(platform.Auth, httpLog, cfg.Auth.OptionalReads, authSkipPaths()).Handler(h)
	}
	h = middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Handler(h)
	if cfg.RateLimit.Enabled {
		h = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, httpLog).Handler(h)
	}
	h = middleware.Metrics(h)
	h = middleware.NewTracingMiddleware(httpLog).Handler(h)
	return h
}

// authSkipPaths lists the endpoints that stay reachable without
// credentials: probes, the status page and the login endpoint itself.
func authSkipPaths() []string {
	return []string{"/status", "/healthz", "/readyz", "/api/v1/auth/login"}
}

// opsHandler serves the operational endpoints kept off the public API
// port. Its server sets no write timeout; pprof profiles stream longer
// than any sensible fixed limit.
func opsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/debug", chiprof.Profiler())
	return r
}
