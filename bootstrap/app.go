package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vigil/api"
	"vigil/config"
	"vigil/correlate"
	"vigil/narrative"
	"vigil/risk"
	"vigil/service"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// App represents the vigil application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage *StorageComponents

	// Pipeline
	Tracer    trace.TracerProvider
	Narrator  *narrative.Generator
	Engine    *correlate.Engine
	Scheduler *correlate.Scheduler

	// Services
	Alerts    *service.AlertService
	Incidents *service.IncidentService
	APIServer *api.API

	// Lifecycle
	shutdownTracing func(context.Context) error
	cancel          context.CancelFunc
	serviceWg       *sync.WaitGroup
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{serviceWg: &sync.WaitGroup{}}

	logger, sugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("vigil starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if cfg.Logging.Level != "info" {
		logger, sugar, err = InitLogger(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.Logger = logger
		app.Sugar = sugar
	}

	if err := app.init(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// NewAppWithConfig builds an application from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     logger.Sugar(),
		serviceWg: &sync.WaitGroup{},
	}
	if err := app.init(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	dirs := DataDirectoriesFromConfig(a.Config)
	if err := EnsureDataDirectories(dirs, a.Sugar); err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}

	st, err := InitStorage(ctx, a.Config, dirs, a.Sugar)
	if err != nil {
		return err
	}
	a.Storage = st

	a.Tracer, a.shutdownTracing = InitTracing(a.Config, a.Sugar)

	scorer := risk.NewScorer()
	a.Narrator, err = InitNarrator(a.Config, st, scorer, a.Tracer, a.Sugar)
	if err != nil {
		st.Close(a.Sugar)
		return err
	}

	a.Engine, a.Scheduler = InitCorrelation(a.Config, st, a.Narrator, scorer, a.Tracer, a.Sugar)

	var trigger service.CorrelationTrigger
	if a.Config.Correlation.OnIngest {
		trigger = a.Scheduler
	}
	a.Alerts = service.NewAlertService(st.Store, a.Narrator, trigger, a.Sugar)
	a.Incidents = service.NewIncidentService(st.Store, a.Narrator, a.Sugar)

	a.APIServer = api.NewAPI(a.Alerts, a.Incidents, a.Engine, st.SQLite, a.Config, a.Sugar)
	return nil
}

// Start starts background correlation, metrics collection and the API server.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Scheduler.Start(runCtx)

	a.Storage.SQLite.StartMetricsCollection(runCtx, 30*time.Second)

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		addr := a.Config.ListenAddr()
		a.Sugar.Infof("API server started on %s", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - stop accepting requests
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Phase 2 - stop correlation before the store goes away
	a.Sugar.Info("Phase 2: Stopping correlation scheduler...")
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Flushing traces...")
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracing(ctx); err != nil {
			a.Sugar.Errorw("Failed to flush traces", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 5: Closing connections...")
	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
