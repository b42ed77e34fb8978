package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plan_store/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID keeps a caller supplied X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(requestIDHeader, id)
		ctx.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		}
		if identity, ok := auth.FromContext(ctx); ok {
			event = event.Str("subject", identity.Subject)
		}
		event.
			Str("request_id", ctx.GetString(requestIDKey)).
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
