package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/config"
	"deepresearch/internal/database"
	"deepresearch/internal/events"
	"deepresearch/internal/llm/client"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/resolver"
	"deepresearch/internal/services"
	"deepresearch/internal/streaming"
)

// App struct
type App struct {
	ctx        context.Context
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	svc        *services.Services
	dbClose    func() error
	metricsSrv *http.Server
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup loads configuration and wires every service. metricsAddr
// overrides the configured listen address when set.
func (a *App) startup(ctx context.Context, configPath, metricsAddr string) error {
	a.ctx = ctx

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Config{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		Production: cfg.Log.Production || !database.IsDevelopment(),
	})
	if err != nil {
		return err
	}
	a.logger = logger

	db, err := database.Init(database.Config{
		Path:     cfg.Database.Path,
		LogLevel: database.ParseLogLevel(cfg.Database.LogLevel),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Capture DB close for graceful shutdown
	if sqlDB, err := db.DB(); err != nil {
		logger.Error("failed to get sql.DB", zap.Error(err))
	} else {
		a.dbClose = sqlDB.Close
	}

	ring, err := services.OpenKeyring(services.KeyringOptions{
		Backend:  cfg.Keyring.Backend,
		FileDir:  cfg.Keyring.FileDir,
		Password: cfg.Keyring.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	a.metrics = metrics.New()
	var urlResolver services.URLResolver
	if cfg.Resolver.Enabled {
		urlResolver = resolver.New(resolver.Config{
			RatePerSecond: cfg.Resolver.RatePerSecond,
			Burst:         cfg.Resolver.Burst,
			Timeout:       cfg.Resolver.Timeout,
			CacheTTL:      cfg.Resolver.CacheTTL,
		}, a.metrics, logger)
	}

	a.svc = services.NewServices(db, services.Deps{
		Keyring: ring,
		NewClient: func(ctx context.Context, apiKey string) (client.Capabilities, error) {
			return client.NewGeminiClient(ctx, apiKey, logger)
		},
		Resolver: urlResolver,
		Emitter:  events.NewLoggerEmitter(logger),
		Metrics:  a.metrics,
		Logger:   logger,
		Throttle: streaming.Options{
			TickInterval:       cfg.Throttle.TickInterval,
			BaseCharsPerSecond: cfg.Throttle.BaseCharsPerSecond,
			MaxChunkSize:       cfg.Throttle.MaxChunkSize,
			MinEmitInterval:    cfg.Throttle.MinEmitInterval,
			MaxBufferSize:      cfg.Throttle.MaxBufferSize,
		},
	})
	if err := a.svc.Startup(ctx); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

// shutdown is called when the command is done. Clean up resources here.
func (a *App) shutdown(ctx context.Context) {
	if a.svc != nil {
		a.svc.Research.Cancel(ctx)
	}

	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to stop metrics server", zap.Error(err))
		}
		cancel()
	}

	// Close database connection pool
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil {
			a.logger.Error("failed to close database", zap.Error(err))
		} else {
			a.logger.Debug("database closed")
		}
		a.dbClose = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
