package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// reuse the caller's id when present so traces line up across services
		id := ctx.GetHeader(requestIDHeader)

		if id == "" {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)

		ctx.Set("request_id", id)

		ctx.Next()
	}
}

func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path // fallback (e.g. 404)
		}

		method := ctx.Request.Method

		ctx.Next()

		lat := time.Since(start)
		status := ctx.Writer.Status()

		reqID, _ := ctx.Get("request_id")

		log.InfoContext(ctx.Request.Context(), "http_request",
			"method", method,
			"route", route,
			"status", status,
			"latency_ms", lat.Milliseconds(),
			"request_id", reqID,
		)
	}
}
