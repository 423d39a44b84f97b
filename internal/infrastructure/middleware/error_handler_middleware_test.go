package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pixelrelay/internal/core/domain"
	"pixelrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func errorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	router := gin.New()
	router.Use(RecoveryMiddleware(logger), ErrorHandlerMiddleware(logger), TracingMiddleware())
	router.GET("/x", handler)
	return router
}

func serve(router http.Handler) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorHandler_DomainErrors(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("disconnect Player3: %w", domain.ErrPlayerNotFound))
	})

	w, body := serve(router)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(errors.ErrCodeNotFound), body["error"])
}

func TestErrorHandler_AppError(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(errors.NewInvalidInputError("reason too long"))
	})

	w, body := serve(router)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "reason too long", body["message"])
}

func TestErrorHandler_Unknown(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("boom"))
	})

	w, body := serve(router)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(errors.ErrCodeInternal), body["error"])
}

func TestErrorHandler_ResponseAlreadyWritten(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		c.String(http.StatusAccepted, "ok")
		_ = c.Error(fmt.Errorf("late"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		panic("handler bug")
	})

	var w *httptest.ResponseRecorder
	var body map[string]interface{}
	require.NotPanics(t, func() { w, body = serve(router) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(errors.ErrCodeInternal), body["error"])
}
