package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelrelay/internal/core/ports"
	"pixelrelay/internal/core/services"
	httphandlers "pixelrelay/internal/handlers/http"
	"pixelrelay/internal/infrastructure/distributed"
	"pixelrelay/internal/infrastructure/middleware"
	"pixelrelay/internal/infrastructure/monitoring"
	signalling "pixelrelay/internal/infrastructure/signal"
	"pixelrelay/pkg/config"
	"pixelrelay/pkg/logger"
	"pixelrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	logLevel := pflag.String("log-level", "", "override logging.level")
	streamerAddr := pflag.String("streamer-address", "", "override signalling.streamer_address")
	playerAddr := pflag.String("player-address", "", "override signalling.player_address")
	sfuAddr := pflag.String("sfu-address", "", "override signalling.sfu_address")
	webAddr := pflag.String("web-address", "", "override web.address")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *streamerAddr != "" {
		cfg.Signalling.StreamerAddress = *streamerAddr
	}
	if *playerAddr != "" {
		cfg.Signalling.PlayerAddress = *playerAddr
	}
	if *sfuAddr != "" {
		cfg.Signalling.SFUAddress = *sfuAddr
	}
	if *webAddr != "" {
		cfg.Web.Address = *webAddr
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	health := monitoring.NewHealthChecker()

	var events ports.EventPublisher = ports.NopPublisher{}
	if cfg.Redis.Enabled {
		client, err := distributed.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer client.Close()

		bus := distributed.NewEventBus(client, cfg.Redis.Channel, log)
		events = bus
		health.AddRedisCheck(client, 15*time.Second, 2*time.Second)

		go func() {
			err := bus.Subscribe(ctx, func(env distributed.Envelope) error {
				log.Debugw("registry event from peer instance",
					"instance_id", env.InstanceID,
					"kind", env.Event.Kind,
					"registry", env.Event.Registry,
					"id", env.Event.ID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	var metrics ports.SignallingMetrics
	registry := prometheus.NewRegistry()
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewSignallingCollector(registry)
	}

	health.StartBackgroundChecks(ctx)

	sig := &signallingComponent{log: log, metrics: metrics, events: events}
	web := &webComponent{signalling: sig, health: health, registry: registry, log: log}
	if err := services.RunComponents(ctx, cfg, log, sig, web); err != nil {
		log.Errorw("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signalling.ShutdownTimeout)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}
	log.Info("signalling server stopped")
}

// newWebServer returns nil when nothing is configured to run on web.address.
func newWebServer(cfg *config.Config, server *signalling.Server, health *monitoring.HealthChecker, registry *prometheus.Registry, log *zap.SugaredLogger) *http.Server {
	if !cfg.Web.ServePlayers && !cfg.Web.RestAPI && !cfg.Monitoring.PrometheusEnabled {
		return nil
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(log)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	if cfg.Web.ServePlayers {
		router.GET("/", gin.WrapH(server.PlayerHandler()))
	}

	if cfg.Web.RestAPI {
		var auth services.AuthService
		if cfg.Web.JWTSecret != "" {
			auth = services.NewAuthService(cfg.Web.JWTSecret, time.Hour)
		}
		httphandlers.NewStatusHandler(server, health, auth).SetupRoutes(router)
	}

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &http.Server{
		Addr:         cfg.Web.Address,
		Handler:      router,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
	}
}
