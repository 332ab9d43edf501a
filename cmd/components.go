package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/alert"
	"github.com/vigildev/vigil/internal/baseline"
	"github.com/vigildev/vigil/internal/comparator"
	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/engine"
	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/renderer"
	"github.com/vigildev/vigil/internal/storage"
)

// components holds the assembled monitoring stack for one command run.
type components struct {
	Engine *engine.Engine
	log    *zap.Logger
}

// Shutdown releases the engine, its browser and the event bus.
func (c *components) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if c.Engine != nil {
		if err := c.Engine.Close(shutdownCtx); err != nil {
			c.log.Warn("Error during engine shutdown.", zap.Error(err))
		}
	}
}

// initializeComponents performs dependency injection for the monitoring
// stack: storage, baselines, browser, comparator, alerting and the engine.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	blob, err := storage.NewFS(cfg.Storage.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
	}
	store, err := storage.NewSnapshotStore(blob, logger)
	if err != nil {
		return nil, err
	}
	registry, err := baseline.NewRegistry(store, config.DefaultViewport, logger)
	if err != nil {
		return nil, err
	}

	channels, err := alert.Build(cfg.Alerts.Channels)
	if err != nil {
		return nil, err
	}
	dispatcher := alert.NewDispatcher(channels, cfg.Alerts.RatePerMinute, logger)

	rend, err := renderer.NewChrome(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bus := events.NewBus(logger, 64)
	eng, err := engine.New(cfg, rend, comparator.NewPixel(), store, registry, dispatcher, bus, logger)
	if err != nil {
		// The browser is already running; release it before bailing out.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = rend.Shutdown(shutdownCtx)
		bus.Shutdown()
		return nil, err
	}

	if err := eng.LoadBaselines(ctx); err != nil {
		logger.Warn("Could not load persisted baselines; continuing with an empty registry.", zap.Error(err))
	}

	return &components{Engine: eng, log: logger}, nil
}
