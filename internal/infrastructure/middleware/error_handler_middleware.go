package middleware

import (
	stderrors "errors"

	"pixelrelay/internal/core/domain"
	"pixelrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// toAppError maps errors attached by handlers onto API errors. Unknown errors
// become internal errors.
func toAppError(err error) (*errors.AppError, bool) {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr, true
	}
	switch {
	case stderrors.Is(err, domain.ErrPlayerNotFound):
		return errors.NewNotFoundError("player"), true
	case stderrors.Is(err, domain.ErrStreamerNotFound):
		return errors.NewNotFoundError("streamer"), true
	case stderrors.Is(err, domain.ErrConnectionClosed):
		return errors.NewConflictError(err.Error()), true
	}
	return errors.NewInternalError("Internal server error"), false
}

func writeError(c *gin.Context, appErr *errors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error, unless the handler already wrote a response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, known := toAppError(err)
		log := logger.With(
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"status", appErr.HTTPStatus,
		)
		if known {
			log.Warnw("request failed", "code", appErr.Code, "message", appErr.Message)
		} else {
			log.Errorw("unhandled error", "error", err)
		}
		writeError(c, appErr)
	}
}

func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				writeError(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}
