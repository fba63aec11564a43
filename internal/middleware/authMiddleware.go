package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/service"
)

// Validates the bearer JWT. The Authorization header is left in place so
// handlers can forward it upstream. Without JWT_SECRET no session can be
// proven, so every request is refused.
func RequireAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.Enabled() {
			apierror.Abort(c, apierror.ErrNotImplemented.WithMessage("Authentication is not configured"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apierror.Abort(c, apierror.ErrUnauthorized.WithMessage("Authorization header required"))
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			apierror.Abort(c, apierror.ErrUnauthorized.WithMessage("Invalid authorization header format. Use: Bearer <token>"))
			return
		}

		identity, err := authService.ValidateToken(parts[1])
		if err != nil {
			apierror.Abort(c, apierror.ErrUnauthorized.WithMessage("Invalid or expired token"))
			return
		}

		// Store user info in context
		c.Set("user_id", identity.UserID)
		c.Set("email", identity.Email)
		c.Set("role", identity.Role)

		c.Next()
	}
}

// Only lets through identities whose role is one of roles. Must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		apierror.Abort(c, apierror.ErrForbidden)
	}
}
