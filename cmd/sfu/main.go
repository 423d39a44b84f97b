package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pixelrelay/internal/core/services"
	"pixelrelay/internal/infrastructure/middleware"
	"pixelrelay/internal/infrastructure/monitoring"
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
	signallingURL := pflag.String("signalling-url", "", "override sfu.signalling_url")
	streamerID := pflag.String("streamer", "", "override sfu.subscribe_streamer_id")
	sfuID := pflag.String("id", "", "override sfu.id")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *signallingURL != "" {
		cfg.SFU.SignallingURL = *signallingURL
	}
	if *streamerID != "" {
		cfg.SFU.SubscribeStreamerID = *streamerID
	}
	if *sfuID != "" {
		cfg.SFU.ID = *sfuID
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName + "-sfu",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	registry := prometheus.NewRegistry()
	health := monitoring.NewHealthChecker()
	sfu := &sfuComponent{log: log, registry: registry, health: health}
	metrics := &metricsComponent{log: log, registry: registry, health: health}
	runErr := services.RunComponents(ctx, cfg, log, sfu, metrics)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signalling.ShutdownTimeout)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalw("sfu stopped", "error", runErr)
	}
	log.Info("sfu stopped")
}

func newMetricsServer(cfg *config.Config, registry *prometheus.Registry, health *monitoring.HealthChecker, log *zap.SugaredLogger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))

	router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		status := health.Status()
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	return &http.Server{Addr: cfg.SFU.MetricsAddress, Handler: router}
}
