package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID to and from clients.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware tags every request with an ID, honoring one supplied by the
// caller so IDs can be traced across service boundaries.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value returns the request ID stored on the context, or "".
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}
