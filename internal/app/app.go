// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/backend/memory"
	pgbackend "github.com/bissquit/task-garden/internal/backend/postgres"
	"github.com/bissquit/task-garden/internal/config"
	"github.com/bissquit/task-garden/internal/directory"
	"github.com/bissquit/task-garden/internal/notify"
	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/bissquit/task-garden/internal/pkg/metrics"
	"github.com/bissquit/task-garden/internal/pkg/postgres"
	"github.com/bissquit/task-garden/internal/session"
	"github.com/bissquit/task-garden/internal/tasks"
	"github.com/bissquit/task-garden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// clientBackend is a backend adapter owned by the app.
type clientBackend interface {
	backend.Backend
	Close()
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	backend       clientBackend
	notifier      *notify.Service
	session       *session.Store
	directory     *directory.Store
	tasks         *tasks.Store
	unfollow      []func()
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance and starts the client stores.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	if err := app.setupBackend(); err != nil {
		metricsCancel()
		return nil, err
	}

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	app.setupStores()

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupBackend() error {
	cfg := a.config

	switch cfg.Backend.Driver {
	case config.DriverMemory:
		store := memory.NewStore(memory.Config{
			ProfileLag:      cfg.Backend.Memory.ProfileLag,
			AutoSignIn:      cfg.Backend.Memory.AutoSignIn,
			SessionDuration: cfg.Auth.SessionDuration,
		})
		a.backend = store.NewClient()
		a.logger.Warn("using in-memory backend, data is lost on exit")

	case config.DriverPostgres:
		connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		a.db = db
		a.backend = pgbackend.New(db, pgbackend.AuthConfig{
			Secret:          cfg.Auth.Secret,
			SessionDuration: cfg.Auth.SessionDuration,
			SignInRate:      rate.Limit(cfg.Auth.SignInRate),
			SignInBurst:     cfg.Auth.SignInBurst,
			BcryptCost:      cfg.Auth.BcryptCost,
		})

	default:
		return fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}

	return nil
}

// setupStores builds the three stores, makes the directory and task stores
// follow the session identity and performs the initial session check.
func (a *App) setupStores() {
	cfg := a.config
	ctx := ctxlog.WithLogger(context.Background(), a.logger)

	a.notifier = notify.NewService(notify.Config{
		Locale:   cfg.Locale,
		Capacity: cfg.Notifications.FeedCapacity,
	})

	a.session = session.NewStore(a.backend, a.notifier, session.Config{
		ProfileRetry: session.ProfileRetryConfig{
			MaxAttempts:    cfg.Session.ProfileRetry.MaxAttempts,
			Backoff:        cfg.Session.ProfileRetry.Backoff,
			MissingBackoff: cfg.Session.ProfileRetry.MissingBackoff,
		},
	})
	a.directory = directory.NewStore(a.backend, a.notifier, directory.Config{
		DegradedMode: cfg.Directory.DegradedMode,
	})
	a.tasks = tasks.NewStore(a.backend, a.notifier, tasks.Config{
		CompensateOrphans: cfg.Tasks.CompensateOrphans,
	})

	a.unfollow = append(a.unfollow,
		a.directory.Follow(ctxlog.With(ctx, "store", "directory"), a.session),
		a.tasks.Follow(ctxlog.With(ctx, "store", "tasks"), a.session),
	)

	a.session.Start(ctxlog.With(ctx, "store", "session"))

	a.logger.Info("session initialized", "state", a.session.Snapshot().State)
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"backend", a.config.Backend.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.session.Close()
	for _, stop := range a.unfollow {
		stop()
	}
	a.backend.Close()

	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger, a.session))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	sessionHandler := session.NewHandler(a.session)
	notifyHandler := notify.NewHandler(a.notifier.Feed())
	directoryHandler := directory.NewHandler(a.directory)
	tasksHandler := tasks.NewHandler(a.tasks, a.directory)

	r.Route("/api/v1", func(r chi.Router) {
		sessionHandler.RegisterRoutes(r)
		notifyHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireIdentity(a.session))

			directoryHandler.RegisterRoutes(r)
			tasksHandler.RegisterRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.session.Snapshot().Initialized {
		httputil.Text(w, http.StatusServiceUnavailable, "Session not initialized")
		return
	}

	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
