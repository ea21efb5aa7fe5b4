package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/tileverse/internal/logging"
)

// TraceIDKey ключ trace-ID в gin.Context
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи
// в компонентный логгер "http".
type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{logger: logging.GetComponentLogger("http")}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если span уже создан otelgin
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rl.logger.Debug("▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.logger.Warn("◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
			return
		}
		rl.logger.Info("◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
