package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/ratelimit"
)

// Context key holding the rate-limit route name
const RouteKey = "route"

// RateLimit counts the request against the (route, client ip) bucket
func RateLimit(limiter *ratelimit.Limiter, resolver *ratelimit.IPResolver, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(RouteKey, route)

		ip := resolver.ClientIP(c.Request)
		decision := limiter.Allow(c.Request.Context(), route, ip)

		// Limit is zero when every strategy was indeterminate
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed() {
			if !decision.ResetAt.IsZero() {
				retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
				if retryAfter < 0 {
					retryAfter = 0
				}
				c.Header("Retry-After", strconv.Itoa(retryAfter))
			}
			apierror.Abort(c, apierror.ErrRateLimited)
			return
		}

		c.Next()
	}
}
