package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// TraceIDHeader returns the trace id of a sampled request
const TraceIDHeader = "X-Trace-ID"

// Trace starts a server span per request
func Trace(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// TraceHeader echoes the request's trace id. Must run after Trace.
func TraceHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := telemetry.TraceID(c.Request.Context()); id != "" {
			c.Header(TraceIDHeader, id)
		}
		c.Next()
	}
}
