package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pixelrelay/internal/infrastructure/monitoring"
	webrtcinfra "pixelrelay/internal/infrastructure/webrtc"
	"pixelrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// sfuComponent owns the media engine and the signalling controller driving it.
type sfuComponent struct {
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	health   *monitoring.HealthChecker

	engine     *webrtcinfra.PionEngine
	controller *webrtcinfra.Controller
}

func (c *sfuComponent) Name() string { return "sfu" }

func (c *sfuComponent) Initialize(cfg *config.Config) error {
	engine, err := webrtcinfra.NewPionEngine(webrtcinfra.PionConfigFromConfig(cfg), c.log)
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}
	c.engine = engine
	c.controller = webrtcinfra.NewController(
		webrtcinfra.ControllerConfigFromConfig(cfg),
		engine,
		c.log,
		monitoring.NewSFUCollector(c.registry),
	)

	c.health.AddCheck("media_engine", func(context.Context) error {
		return engine.Err()
	}, 10*time.Second, time.Second)
	c.health.AddCheck("signalling", func(context.Context) error {
		if state := c.controller.State(); state == webrtcinfra.StateConnecting {
			return fmt.Errorf("signalling state %s", state)
		}
		return nil
	}, 10*time.Second, time.Second)
	return nil
}

func (c *sfuComponent) Run(ctx context.Context) error {
	defer func() {
		if err := c.engine.Close(); err != nil {
			c.log.Warnw("error closing media engine", "error", err)
		}
	}()
	return c.controller.Run(ctx)
}

// metricsComponent runs the health checks and, when sfu.metrics_address is
// set, serves them with the prometheus registry.
type metricsComponent struct {
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	health   *monitoring.HealthChecker

	srv *http.Server
}

func (c *metricsComponent) Name() string { return "metrics" }

func (c *metricsComponent) Initialize(cfg *config.Config) error {
	if cfg.SFU.MetricsAddress != "" {
		c.srv = newMetricsServer(cfg, c.registry, c.health, c.log)
	}
	return nil
}

func (c *metricsComponent) Run(ctx context.Context) error {
	c.health.StartBackgroundChecks(ctx)
	if c.srv == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Infow("metrics server started", "address", c.srv.Addr)
		if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.srv.Shutdown(shutdownCtx)
}
