package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// RequestMetrics records request count and latency per route. m may be nil.
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// AccessLog logs requests that failed or produced errors.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status < 400 && len(c.Errors) == 0 {
			return
		}
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("host", c.Request.Host),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if tc, ok := tenancy.FromContext(c.Request.Context()); ok && tc.TenantID() != "" {
			fields = append(fields, zap.String("tenant_id", tc.TenantID()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}
		if status >= 500 {
			log.Error("request failed", fields...)
			return
		}
		log.Info("request rejected", fields...)
	}
}
