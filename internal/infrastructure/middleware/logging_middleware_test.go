package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pixelrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(RequestLogMiddleware(logger.NewContextLogger(zap.New(core).Sugar())))
	router.GET("/api/players/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/players/Player0", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/players/:id", fields["path"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status_code"])
	assert.Equal(t, http.MethodGet, fields["method"])
}
