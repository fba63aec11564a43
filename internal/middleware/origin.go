package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/security"
	"go.uber.org/zap"
)

// OriginGuard rejects state-changing requests from origins off the allow-list.
// onReject may be nil.
func OriginGuard(guard *security.OriginGuard, log *zap.Logger, onReject func(code string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiErr := guard.Check(c.Request); apiErr != nil {
			log.Warn("origin rejected",
				zap.String("request_id", GetRequestID(c)),
				zap.String("code", apiErr.Code),
				zap.String("origin", c.GetHeader("Origin")),
				zap.String("path", c.Request.URL.Path),
			)
			if onReject != nil {
				onReject(apiErr.Code)
			}
			apierror.Abort(c, apiErr)
			return
		}
		c.Next()
	}
}
