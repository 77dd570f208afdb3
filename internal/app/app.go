package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"school-service/common/logger"
	commonmetrics "school-service/common/metrics"
	"school-service/common/telemetry"
	"school-service/internal/config"
	"school-service/internal/db"
	"school-service/internal/health"
	"school-service/internal/kafka"
	"school-service/internal/messaging"
	"school-service/internal/metrics"
	"school-service/internal/middleware"
	"school-service/internal/school"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/uptrace/bun"
)

// EventProducer is a school event sink that owns a broker connection.
type EventProducer interface {
	school.Producer
	io.Closer
}

type App struct {
	config    *config.Config
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	db        *bun.DB
	producer  EventProducer
	telemetry *telemetry.Telemetry
}

// RouterDeps is everything the HTTP layer needs; tests build it by hand.
type RouterDeps struct {
	DB       *bun.DB
	Producer school.Producer
	Metrics  *commonmetrics.Metrics
	Logger   *slog.Logger
	Server   config.ServerConfig
}

func New(ctx context.Context) (*App, error) {
	slogLogger := logger.NewWithServiceContext(ServiceName, Version)

	// Set as default logger so slog.Info() uses the same handler
	slog.SetDefault(slogLogger)

	slogLogger.Info("initializing application", "commit", GitCommit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slogLogger.Info("config loaded", "env", cfg.Env)

	tel, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
	}, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		_ = tel.Shutdown(ctx, slogLogger)
		return nil, err
	}

	meter := tel.Metrics.Meter()
	if err := tel.Metrics.Database.RegisterDB(database.DB, meter); err != nil {
		slogLogger.Warn("failed to register database pool metrics", "error", err)
	}
	if err := tel.Metrics.Health.RegisterDependencies(meter, health.DependencyDatabase); err != nil {
		slogLogger.Warn("failed to register dependency metrics", "error", err)
	}

	if err := school.CreateTable(ctx, database); err != nil {
		_ = database.Close()
		_ = tel.Shutdown(ctx, slogLogger)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	producer, err := newEventProducer(cfg.Events, slogLogger, tel.Metrics.Messaging)
	if err != nil {
		slogLogger.Warn("failed to initialize event producer, events disabled", "driver", cfg.Events.Driver, "error", err)
		producer = nil
	}

	deps := RouterDeps{
		DB:      database,
		Metrics: tel.Metrics,
		Logger:  slogLogger,
		Server:  cfg.Server,
	}
	if producer != nil {
		deps.Producer = producer
	}

	router, err := NewRouter(deps)
	if err != nil {
		_ = database.Close()
		_ = tel.Shutdown(ctx, slogLogger)
		return nil, err
	}

	app := &App{
		config:    cfg,
		router:    router,
		logger:    slogLogger,
		db:        database,
		producer:  producer,
		telemetry: tel,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
		},
	}

	slogLogger.Info("application initialized successfully")

	return app, nil
}

// NewRouter assembles middleware, health probes and the school endpoints.
func NewRouter(deps RouterDeps) (chi.Router, error) {
	m := deps.Metrics
	if m == nil {
		m = commonmetrics.NewMock()
	}

	schoolMetrics := metrics.NewMock()
	if meter := m.Meter(); meter != nil {
		var err error
		schoolMetrics, err = metrics.New(meter)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize school metrics: %w", err)
		}
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.Recover(deps.Logger))
	router.Use(middleware.CORS(deps.Server.CORSOrigins))
	if deps.Server.RequestTimeout > 0 {
		router.Use(chimw.Timeout(time.Duration(deps.Server.RequestTimeout) * time.Second))
	}

	healthHandler := health.NewHandler(deps.DB, m.Health, deps.Logger)
	healthHandler.RegisterRoutes(router)

	schoolRepo := school.NewRepository(deps.DB, m)
	schoolService := school.NewService(schoolRepo, deps.Producer, deps.Logger)
	schoolHandler := school.NewHandler(schoolService, deps.Logger, schoolMetrics)
	schoolHandler.RegisterRoutes(router)

	return router, nil
}

func newEventProducer(cfg config.EventsConfig, logger *slog.Logger, m *commonmetrics.MessagingMetrics) (EventProducer, error) {
	switch cfg.Driver {
	case "nats":
		return messaging.NewProducer(cfg.NATS.URL, cfg.NATS.Subject, logger, m)
	case "kafka":
		return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger, m)
	default:
		logger.Info("school events disabled")
		return nil, nil
	}
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) Run() error {
	a.logger.Info("server starting", "port", a.config.Server.Port)
	a.logEndpoints()

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) logEndpoints() {
	base := fmt.Sprintf("http://localhost:%s", a.config.Server.Port)
	a.logger.Info("API endpoints",
		"add", "POST "+base+"/addSchool",
		"list", "GET "+base+"/listSchools?latitude=<lat>&longitude=<lon>",
		"delete", "DELETE "+base+"/deleteSchool/{id}",
		"test_db", "GET "+base+"/test-db",
	)
}

// Shutdown stops accepting requests, then releases the producer, the pool and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close: %w", err))
		}
	}

	if err := db.Close(a.db); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	if err := a.telemetry.Shutdown(ctx, a.logger); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
