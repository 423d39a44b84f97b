package http

import (
	"context"
	"net/http"
	"time"

	"pixelrelay/internal/core/domain"
	"pixelrelay/internal/core/services"
	"pixelrelay/internal/infrastructure/middleware"
	"pixelrelay/internal/infrastructure/monitoring"
	"pixelrelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

const maxReasonLength = 123

// RegistryView is the part of the signalling server the REST API exposes.
type RegistryView interface {
	Status() domain.ServerStatus
	Streamers() []domain.StreamerInfo
	Players() []domain.PlayerInfo
	DisconnectPlayer(id, reason string) error
}

type StatusHandler struct {
	registry RegistryView
	health   *monitoring.HealthChecker
	auth     services.AuthService
}

// NewStatusHandler builds the REST handler. A nil auth service leaves every
// route unauthenticated.
func NewStatusHandler(registry RegistryView, health *monitoring.HealthChecker, auth services.AuthService) *StatusHandler {
	return &StatusHandler{
		registry: registry,
		health:   health,
		auth:     auth,
	}
}

func (h *StatusHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	if h.auth != nil {
		api.Use(middleware.AuthMiddleware(h.auth))
	}
	{
		api.GET("/status", h.GetStatus)
		api.GET("/streamers", h.ListStreamers)
		api.GET("/players", h.ListPlayers)
		api.POST("/players/:id/disconnect", h.requireOperator(), h.DisconnectPlayer)
	}
}

func (h *StatusHandler) requireOperator() gin.HandlerFunc {
	if h.auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RequireRole(h.auth, services.RoleOperator)
}

func (h *StatusHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, monitoring.HealthStatus{Status: monitoring.StatusHealthy, Timestamp: time.Now()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Status())
}

func (h *StatusHandler) ListStreamers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streamers": h.registry.Streamers()})
}

func (h *StatusHandler) ListPlayers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"players": h.registry.Players()})
}

type disconnectRequest struct {
	Reason string `json:"reason"`
}

func (h *StatusHandler) DisconnectPlayer(c *gin.Context) {
	var req disconnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	if len(req.Reason) > maxReasonLength {
		_ = c.Error(errors.NewInvalidInputError("reason must fit in a websocket close frame"))
		return
	}
	if req.Reason == "" {
		req.Reason = "disconnected by operator"
	}

	id := c.Param("id")
	if err := h.registry.DisconnectPlayer(id, req.Reason); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "disconnecting"})
}
