package telemetry

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPServerMiddleware logs the start and finish of every request and records its latency.
func HTTPServerMiddleware() gin.HandlerFunc {
	return httpServerLogger(slog.Default())
}

func httpServerLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		l.DebugContext(ctx, "http: started call",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		lvl := slog.LevelInfo
		if status >= 500 {
			lvl = slog.LevelError
		}
		l.Log(ctx, lvl, "http: finished call",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}
