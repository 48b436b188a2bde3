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
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsrelay/incident-backend/internal/auth"
	"github.com/opsrelay/incident-backend/internal/config"
	"github.com/opsrelay/incident-backend/internal/incidents"
	incidentspostgres "github.com/opsrelay/incident-backend/internal/incidents/postgres"
	"github.com/opsrelay/incident-backend/internal/notifications"
	"github.com/opsrelay/incident-backend/internal/notifications/email"
	notificationspostgres "github.com/opsrelay/incident-backend/internal/notifications/postgres"
	"github.com/opsrelay/incident-backend/internal/notifications/sms"
	"github.com/opsrelay/incident-backend/internal/notifications/webhook"
	"github.com/opsrelay/incident-backend/internal/pkg/ctxlog"
	"github.com/opsrelay/incident-backend/internal/pkg/httputil"
	"github.com/opsrelay/incident-backend/internal/pkg/metrics"
	"github.com/opsrelay/incident-backend/internal/pkg/postgres"
	"github.com/opsrelay/incident-backend/internal/rules"
	rulespostgres "github.com/opsrelay/incident-backend/internal/rules/postgres"
	"github.com/opsrelay/incident-backend/internal/version"
)

// App represents the application instance.
type App struct {
	config             *config.Config
	logger             *slog.Logger
	db                 *pgxpool.Pool
	server             *http.Server
	metricsServer      *http.Server
	metricsCancel      context.CancelFunc
	notificationWorker *notifications.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
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

	if err := runMigrations(cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: backgroundCancel,
	}

	go app.collectDBMetrics(backgroundCtx)

	router, worker, err := app.setupRouter(backgroundCtx)
	if err != nil {
		db.Close()
		backgroundCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.notificationWorker = worker

	app.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              cfg.Server.MetricsAddr,
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
	go func() {
		a.logger.Info("starting metrics server", "addr", a.config.Server.MetricsAddr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server", "addr", a.config.Server.Addr)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop notification worker first so in-flight deliveries finish
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

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

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotificationWorker returns the notification worker instance.
// Used in tests to access worker state.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *notifications.Worker, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.Server.CORSOrigins))
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

	// Notification plumbing
	notificationsRepo := notificationspostgres.NewRepository(a.db)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create notification renderer: %w", err)
	}

	senders := make([]notifications.Sender, 0, 3)

	emailSender, err := email.NewSender(email.Config{
		Enabled:      a.config.Notifications.Email.Enabled,
		SMTPHost:     a.config.Notifications.Email.SMTPHost,
		SMTPPort:     a.config.Notifications.Email.SMTPPort,
		SMTPUser:     a.config.Notifications.Email.SMTPUser,
		SMTPPassword: a.config.Notifications.Email.SMTPPassword,
		FromAddress:  a.config.Notifications.Email.FromAddress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create email sender: %w", err)
	}
	if !a.config.Notifications.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will not be sent")
	}
	senders = append(senders, emailSender)

	smsSender, err := sms.NewSender(sms.Config{
		Enabled:       a.config.Notifications.SMS.Enabled,
		GatewayURL:    a.config.Notifications.SMS.GatewayURL,
		APIKey:        a.config.Notifications.SMS.APIKey,
		FromNumber:    a.config.Notifications.SMS.FromNumber,
		RatePerSecond: a.config.Notifications.SMS.RatePerSecond,
		Burst:         a.config.Notifications.SMS.Burst,
		Timeout:       a.config.Notifications.SMS.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create sms sender: %w", err)
	}
	if !a.config.Notifications.SMS.Enabled {
		slog.Warn("sms sender is disabled: sms notifications will not be sent")
	}
	senders = append(senders, smsSender)

	senders = append(senders, webhook.NewSender(webhook.Config{
		Enabled:       a.config.Notifications.Webhook.Enabled,
		SigningSecret: a.config.Notifications.Webhook.SigningSecret,
		Timeout:       a.config.Notifications.Webhook.Timeout,
	}))

	dispatcher := notifications.NewDispatcher(
		notificationsRepo,
		renderer,
		a.config.Notifications.Worker.MaxAttempts,
		senders...,
	)

	// Alert rules
	rulesRepo := rulespostgres.NewRepository(a.db)
	rulesService := rules.NewService(rulesRepo)
	rulesHandler := rules.NewHandler(rulesService)

	notifier := notifications.NewNotifier(rulesRepo, dispatcher)

	// Incidents
	incidentsRepo := incidentspostgres.NewRepository(a.db)
	incidentsService := incidents.NewService(incidentsRepo, notifier)
	incidentsHandler := incidents.NewHandler(incidentsService)

	notificationsService := notifications.NewService(notificationsRepo, dispatcher, incidentsService)
	notificationsHandler := notifications.NewHandler(notificationsService)

	// Queue worker. Disabled in tests that run their own workers
	// against the same queue.
	var worker *notifications.Worker
	if a.config.Notifications.Enabled {
		worker = notifications.NewWorker(notifications.WorkerConfig{
			BatchSize:         a.config.Notifications.Worker.BatchSize,
			PollInterval:      a.config.Notifications.Worker.PollInterval,
			MaxAttempts:       a.config.Notifications.Worker.MaxAttempts,
			InitialBackoff:    a.config.Notifications.Worker.InitialBackoff,
			MaxBackoff:        a.config.Notifications.Worker.MaxBackoff,
			BackoffMultiplier: a.config.Notifications.Worker.BackoffMultiplier,
			NumWorkers:        a.config.Notifications.Worker.NumWorkers,
			SendTimeout:       a.config.Notifications.Worker.SendTimeout,
			Retention:         a.config.Notifications.Worker.Retention,
			SweepInterval:     a.config.Notifications.Worker.SweepInterval,
		}, notificationsRepo, dispatcher)
		worker.Start(ctx)

		go a.collectQueueMetrics(ctx, notificationsRepo)
	} else {
		slog.Info("notification worker disabled: deliveries will queue without sending")
	}

	tokenValidator := auth.NewJWTValidator([]byte(a.config.Auth.JWTSecret), a.config.Auth.Issuer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(tokenValidator))

			incidentsHandler.RegisterRoutes(r)
			rulesHandler.RegisterRoutes(r)
			notificationsHandler.RegisterRoutes(r)
		})
	})

	return r, worker, nil
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

// runMigrations applies pending schema migrations. An empty migrations
// path disables the step for deployments that migrate out of band.
func runMigrations(cfg config.DatabaseConfig) error {
	if cfg.MigrationsPath == "" {
		return nil
	}

	migrator, err := migrate.New("file://"+cfg.MigrationsPath, cfg.URL)
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	slog.Info("database migrations applied", "path", cfg.MigrationsPath)
	return nil
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
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

	return slog.New(handler)
}
