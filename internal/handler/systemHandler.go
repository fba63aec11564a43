package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/auth/sso"
	"github.com/rightly/dsar-gateway/internal/healthcheck"
	"github.com/rightly/dsar-gateway/internal/ratelimit"
	"github.com/rightly/dsar-gateway/internal/security"
)

// Handles gateway introspection endpoints
type SystemHandler struct {
	limiter *ratelimit.Limiter
	memory  *ratelimit.MemoryStrategy
	guard   *security.OriginGuard
	checker *healthcheck.Checker
	sso     *sso.Manager
}

func NewSystemHandler(limiter *ratelimit.Limiter, memory *ratelimit.MemoryStrategy, guard *security.OriginGuard, checker *healthcheck.Checker, ssoManager *sso.Manager) *SystemHandler {
	return &SystemHandler{
		limiter: limiter,
		memory:  memory,
		guard:   guard,
		checker: checker,
		sso:     ssoManager,
	}
}

// Returns the active rate limit chain, origin allow-list, upstream state and
// which SSO providers have credentials
func (h *SystemHandler) Status(c *gin.Context) {
	buckets := 0
	if h.memory != nil {
		buckets = h.memory.Len()
	}

	c.JSON(http.StatusOK, gin.H{
		"rate_limit": gin.H{
			"strategies":     h.limiter.Strategies(),
			"memory_buckets": buckets,
		},
		"allowed_origins": h.guard.Allowed(),
		"upstream":        h.checker.UpstreamStatus(),
		"sso":             h.sso.States(),
	})
}

// Drops every in-memory rate limit bucket
func (h *SystemHandler) ResetRateLimits(c *gin.Context) {
	if h.memory == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": h.memory.Reset()})
}
