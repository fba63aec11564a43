package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/proxy"
)

// Context key holding the correlation id
const RequestIDKey = "request_id"

// Reuses the caller's x-request-id or generates one, and echoes it back
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := proxy.EnsureRequestID(c.Request)
		c.Set(RequestIDKey, rid)
		c.Header(proxy.HeaderRequestID, rid)
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
