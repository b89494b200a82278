package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader  = "X-Request-ID"
	ContextRequestID = "request_id"
	ContextLogger    = "logger"
)

// RequestLogger assigns every request an id (reusing a valid incoming
// X-Request-ID) and logs it once it completes.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		reqLogger := logger.With().Str("request_id", requestID).Logger()
		c.Set(ContextLogger, &reqLogger)

		c.Next()

		status := c.Writer.Status()
		evt := reqLogger.Info()
		switch {
		case status >= 500:
			evt = reqLogger.Error()
		case status >= 400:
			evt = reqLogger.Warn()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// Logger returns the request-scoped logger, or fallback outside a request.
func Logger(c *gin.Context, fallback zerolog.Logger) *zerolog.Logger {
	if v, ok := c.Get(ContextLogger); ok {
		if l, ok := v.(*zerolog.Logger); ok {
			return l
		}
	}
	return &fallback
}
