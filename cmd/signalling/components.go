package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pixelrelay/internal/core/ports"
	"pixelrelay/internal/infrastructure/monitoring"
	signalling "pixelrelay/internal/infrastructure/signal"
	"pixelrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type signallingComponent struct {
	log     *zap.SugaredLogger
	metrics ports.SignallingMetrics
	events  ports.EventPublisher

	server *signalling.Server
}

func (c *signallingComponent) Name() string { return "signalling" }

func (c *signallingComponent) Initialize(cfg *config.Config) error {
	opts, err := signalling.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	// The web listener takes over the player socket.
	if cfg.Web.ServePlayers {
		opts.PlayerAddress = ""
	}
	c.server = signalling.NewServer(opts, c.log, c.metrics, c.events)
	return nil
}

func (c *signallingComponent) Run(ctx context.Context) error {
	return c.server.ListenAndServe(ctx)
}

// webComponent serves players, the REST API and metrics on web.address. It
// must be initialised after the signalling component it fronts.
type webComponent struct {
	signalling *signallingComponent
	health     *monitoring.HealthChecker
	registry   *prometheus.Registry
	log        *zap.SugaredLogger

	srv             *http.Server
	shutdownTimeout time.Duration
}

func (c *webComponent) Name() string { return "web" }

func (c *webComponent) Initialize(cfg *config.Config) error {
	if c.signalling.server == nil {
		return errors.New("signalling server is not initialized")
	}
	c.srv = newWebServer(cfg, c.signalling.server, c.health, c.registry, c.log)
	c.shutdownTimeout = cfg.Signalling.ShutdownTimeout
	return nil
}

func (c *webComponent) Run(ctx context.Context) error {
	if c.srv == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Infow("web server started", "address", c.srv.Addr)
		if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()
	if err := c.srv.Shutdown(shutdownCtx); err != nil {
		_ = c.srv.Close()
		return err
	}
	return nil
}
