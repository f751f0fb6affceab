package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/service"
)

// Metrics observes every request on the HTTP histogram and counter. The
// route template is used as the path label so IDs do not explode the
// cardinality; unmatched routes fall back to the raw path.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
