// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/api"
	"github.com/JakeFAU/realtime-social-crawler/internal/config"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/errclass"
	"github.com/JakeFAU/realtime-social-crawler/internal/logging"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
	"github.com/JakeFAU/realtime-social-crawler/internal/ratelimit"
	"github.com/JakeFAU/realtime-social-crawler/internal/scheduler"
	"github.com/JakeFAU/realtime-social-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	tracer    *sdktrace.TracerProvider
	store     crawler.Store
	ttl       crawler.TTLStore
	governor  *ratelimit.Governor
	tracker   *errclass.Tracker
	service   *orchestrator.Service
	apiServer *api.Server
	scheduler *scheduler.Scheduler
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger *zap.Logger
}

// WithLogger replaces the logger Build would create from cfg.Logging.
func WithLogger(l *zap.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// Build creates the application's dependencies. On error, anything already
// opened is released.
func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (app *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("ttl_backend", cfg.TTL.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	if cfg.Tracing.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	if err = app.setupTTL(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupGovernor(); err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupTracker(publisher); err != nil {
		return nil, err
	}
	adapters, err := app.setupAdapters()
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupOrchestrator(adapters, publisher, blobs); err != nil {
		return nil, err
	}
	if err = app.setupAPI(); err != nil {
		return nil, err
	}
	app.scheduler, err = scheduler.New(app.service, cfg.Scheduler.Tick, scheduler.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return app, nil
}

// Service returns the orchestration service.
func (a *App) Service() *orchestrator.Service { return a.service }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.governor != nil {
		a.governor.Wait()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
