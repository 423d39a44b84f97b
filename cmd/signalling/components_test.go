package main

import (
	"context"
	"testing"
	"time"

	"pixelrelay/internal/core/ports"
	"pixelrelay/internal/core/services"
	"pixelrelay/internal/infrastructure/monitoring"
	"pixelrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loopbackConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Signalling.StreamerAddress = "127.0.0.1:0"
	cfg.Signalling.PlayerAddress = "127.0.0.1:0"
	cfg.Signalling.SFUAddress = "127.0.0.1:0"
	cfg.Signalling.ShutdownTimeout = time.Second
	cfg.Web.Address = "127.0.0.1:0"
	return cfg
}

func newComponents() (*signallingComponent, *webComponent) {
	log := zap.NewNop().Sugar()
	sig := &signallingComponent{log: log, events: ports.NopPublisher{}}
	web := &webComponent{
		signalling: sig,
		health:     monitoring.NewHealthChecker(),
		registry:   prometheus.NewRegistry(),
		log:        log,
	}
	return sig, web
}

func TestWebComponent_RequiresSignalling(t *testing.T) {
	_, web := newComponents()
	assert.Error(t, web.Initialize(loopbackConfig()))
}

func TestWebComponent_IdleWhenNothingIsServed(t *testing.T) {
	cfg := loopbackConfig()
	cfg.Web.RestAPI = false
	cfg.Monitoring.PrometheusEnabled = false

	sig, web := newComponents()
	require.NoError(t, sig.Initialize(cfg))
	require.NoError(t, web.Initialize(cfg))
	assert.Nil(t, web.srv)
	assert.NoError(t, web.Run(context.Background()))
}

func TestComponents_RunUntilCancelled(t *testing.T) {
	sig, web := newComponents()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- services.RunComponents(ctx, loopbackConfig(), zap.NewNop().Sugar(), sig, web) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("components did not stop")
	}
	assert.NotNil(t, sig.server)
	assert.NotNil(t, web.srv)
}
