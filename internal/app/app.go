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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/lead-garden/internal/catalog"
	catalogpostgres "github.com/bissquit/lead-garden/internal/catalog/postgres"
	"github.com/bissquit/lead-garden/internal/config"
	"github.com/bissquit/lead-garden/internal/content"
	"github.com/bissquit/lead-garden/internal/enrollment"
	enrollmentpostgres "github.com/bissquit/lead-garden/internal/enrollment/postgres"
	"github.com/bissquit/lead-garden/internal/leads"
	leadspostgres "github.com/bissquit/lead-garden/internal/leads/postgres"
	"github.com/bissquit/lead-garden/internal/messaging"
	"github.com/bissquit/lead-garden/internal/messaging/email"
	"github.com/bissquit/lead-garden/internal/messaging/whatsapp"
	"github.com/bissquit/lead-garden/internal/pkg/ctxlog"
	"github.com/bissquit/lead-garden/internal/pkg/httputil"
	"github.com/bissquit/lead-garden/internal/pkg/metrics"
	"github.com/bissquit/lead-garden/internal/pkg/postgres"
	"github.com/bissquit/lead-garden/internal/queue"
	queuepostgres "github.com/bissquit/lead-garden/internal/queue/postgres"
	"github.com/bissquit/lead-garden/internal/transitions"
	"github.com/bissquit/lead-garden/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	processor     *queue.Processor
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

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
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, processor, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.processor = processor

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
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
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the queue processor before cancelling the shared context it runs
	// on; in-flight dispatches complete and write their ledger rows.
	if a.processor != nil {
		a.processor.Stop()
	}

	a.metricsCancel()

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

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
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

// Processor returns the queue processor instance, used in tests to trigger
// passes without waiting for the poll tick.
func (a *App) Processor() *queue.Processor {
	return a.processor
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *queue.Processor, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
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

	// Repositories
	catalogRepo := catalogpostgres.NewRepository(a.db)
	leadsRepo := leadspostgres.NewRepository(a.db)
	enrollmentRepo := enrollmentpostgres.NewRepository(a.db)
	queueRepo := queuepostgres.NewRepository(a.db)

	// Catalog
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(catalogService)

	// Enrollment (the waker is wired after the processor exists)
	enrollmentService := enrollment.NewService(enrollmentRepo, catalogService, queueRepo)
	enrollmentHandler := enrollment.NewHandler(enrollmentService)

	// Leads
	tokens := leads.NewTokenSigner(a.config.Links.UnsubscribeSecret, a.config.Links.UnsubscribeTTL)
	leadsService := leads.NewService(leadsRepo, tokens, enrollmentService, a.config.Links.UnsubscribeBase)
	leadsHandler := leads.NewHandler(leadsService)

	// Channel senders
	emailSender, err := email.NewSender(email.Config{
		Enabled:      a.config.Email.Enabled,
		SMTPHost:     a.config.Email.SMTPHost,
		SMTPPort:     a.config.Email.SMTPPort,
		SMTPUser:     a.config.Email.SMTPUser,
		SMTPPassword: a.config.Email.SMTPPassword,
		FromAddress:  a.config.Email.FromAddress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create email sender: %w", err)
	}
	if !a.config.Email.Enabled {
		slog.Warn("email sender is disabled: email steps will fail until configured")
	}

	identities := make([]whatsapp.Identity, 0, len(a.config.WhatsApp.Identities))
	for _, id := range a.config.WhatsApp.Identities {
		identities = append(identities, whatsapp.Identity{
			Name:        id.Name,
			PhoneID:     id.PhoneID,
			AccessToken: id.AccessToken,
		})
	}
	whatsappSender, err := whatsapp.NewSender(whatsapp.Config{
		Enabled:            a.config.WhatsApp.Enabled,
		APIBaseURL:         a.config.WhatsApp.APIBaseURL,
		Identities:         identities,
		DefaultIdentity:    a.config.WhatsApp.DefaultIdentity,
		FirstTouchIdentity: a.config.WhatsApp.FirstTouchIdentity,
		RateLimit:          a.config.WhatsApp.RateLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create whatsapp sender: %w", err)
	}
	if !a.config.WhatsApp.Enabled {
		slog.Warn("whatsapp sender is disabled: chat steps will fail until configured")
	}

	dispatcher := messaging.NewDispatcher(emailSender, whatsappSender)

	// Queue
	resolver := content.NewResolver(catalogService, queueRepo)
	renderer := content.NewRenderer()

	queueService := queue.NewService(
		queue.ServiceConfig{
			MaxAttempts:     a.config.Queue.MaxAttempts,
			DispatchTimeout: a.config.Queue.DispatchTimeout,
			SchedulingURL:   a.config.Links.SchedulingURL,
		},
		queueRepo,
		leadsService,
		catalogService,
		enrollmentService,
		resolver,
		renderer,
		dispatcher,
	)

	processor := queue.NewProcessor(queue.ProcessorConfig{
		PollInterval: a.config.Queue.PollInterval,
		BatchSize:    a.config.Queue.BatchSize,
		NumWorkers:   a.config.Queue.NumWorkers,
	}, queueRepo, queueService)
	enrollmentService.SetWaker(processor)
	processor.Start(ctx)

	queueHandler := queue.NewHandler(queueService, processor)

	// Transitions
	transitionsService := transitions.NewService(transitions.Sequences{
		Nurture: a.config.Sequences.NurtureSlug,
		Booked:  a.config.Sequences.BookedSlug,
		NoShow:  a.config.Sequences.NoShowSlug,
	}, enrollmentService, leadsService)
	transitionsHandler := transitions.NewHandler(transitionsService)

	apiKeys := make([]httputil.APIKey, 0, len(a.config.Auth.APIKeys))
	for _, k := range a.config.Auth.APIKeys {
		apiKeys = append(apiKeys, httputil.APIKey{Name: k.Name, Hash: k.Hash})
	}

	r.Route("/api/v1", func(r chi.Router) {
		leadsHandler.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.APIKeyMiddleware(apiKeys))

			catalogHandler.RegisterRoutes(r)
			enrollmentHandler.RegisterRoutes(r)
			queueHandler.RegisterRoutes(r)
			transitionsHandler.RegisterRoutes(r)
			leadsHandler.RegisterRoutes(r)
		})
	})

	return r, processor, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
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
	case "info":
		level = slog.LevelInfo
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
