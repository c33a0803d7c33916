package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskrunner/runner/internal/logging"
)

const logIDHeader = "X-Log-Id"

func resolveLogID(c *gin.Context) string {
	for _, header := range []string{logIDHeader, "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
			return value
		}
	}
	return uuid.NewString()
}

// loggingMiddleware logs one line per request, tagged with a log id
// propagated from (or generated for) the request, matching the teacher's
// LoggingMiddleware/resolveLogID split.
func loggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	logger := logging.Component(base, "httpapi")
	return func(c *gin.Context) {
		logID := resolveLogID(c)
		c.Writer.Header().Set(logIDHeader, logID)
		c.Set(logIDHeader, logID)

		start := time.Now()
		c.Next()

		logger.Info("request",
			"log_id", logID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", c.ClientIP(),
		)
	}
}
