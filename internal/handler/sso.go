package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/auth/sso"
	"github.com/rightly/dsar-gateway/internal/service"
	"go.uber.org/zap"
)

const (
	ssoStateCookie = "sso_state"
	ssoCookiePath  = "/api/auth/sso"
	ssoStateMaxAge = 600
)

type SSOHandler struct {
	manager *sso.Manager
	auth    *service.AuthService
	log     *zap.Logger
	secure  bool
	admins  map[string]struct{}
}

// adminEmails are lowercased addresses that sign in with the admin role
func NewSSOHandler(manager *sso.Manager, auth *service.AuthService, log *zap.Logger, secureCookies bool, adminEmails []string) *SSOHandler {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		admins[strings.ToLower(email)] = struct{}{}
	}
	return &SSOHandler{manager: manager, auth: auth, log: log, secure: secureCookies, admins: admins}
}

// Only a provider-verified address can carry the admin role
func (h *SSOHandler) roleFor(user *sso.User) string {
	if !user.EmailVerified || user.Email == "" {
		return service.RoleUser
	}
	if _, ok := h.admins[strings.ToLower(user.Email)]; ok {
		return service.RoleAdmin
	}
	return service.RoleUser
}

func (h *SSOHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.manager.EnabledProviders()})
}

// Start redirects the browser to the identity provider
func (h *SSOHandler) Start(c *gin.Context) {
	state := uuid.NewString()

	target, err := h.manager.AuthURL(c.Param("provider"), state)
	if err != nil {
		abortWithSSOError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ssoStateCookie, state, ssoStateMaxAge, ssoCookiePath, "", h.secure, true)
	c.Redirect(http.StatusFound, target)
}

// Callback finishes the OAuth flow and issues a gateway token
func (h *SSOHandler) Callback(c *gin.Context) {
	if c.Param("provider") != "google" {
		apierror.Abort(c, apierror.ErrNotImplemented.WithMessage("SAML sign-in is not available yet"))
		return
	}

	expected, err := c.Cookie(ssoStateCookie)
	state := c.Query("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("Invalid SSO state"))
		return
	}
	c.SetCookie(ssoStateCookie, "", -1, ssoCookiePath, "", h.secure, true)

	code := c.Query("code")
	if code == "" {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("Missing authorization code"))
		return
	}

	if !h.auth.Enabled() {
		apierror.Abort(c, apierror.ErrNotImplemented.WithMessage("JWT_SECRET is not configured"))
		return
	}

	user, err := h.manager.HandleGoogleCallback(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, sso.ErrProviderDisabled) {
			abortWithSSOError(c, err)
			return
		}
		h.log.Warn("google sign-in failed", zap.Error(err))
		apierror.Abort(c, apierror.ErrUnauthorized.WithMessage("SSO sign-in failed"))
		return
	}

	token, err := h.auth.IssueToken(service.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     h.roleFor(user),
		Provider: user.Provider,
	})
	if err != nil {
		h.log.Error("issue token failed", zap.Error(err))
		apierror.Abort(c, apierror.ErrInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func abortWithSSOError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sso.ErrUnknownProvider):
		apierror.Abort(c, apierror.ErrNotFound.WithMessage("Unknown SSO provider"))
	case errors.Is(err, sso.ErrProviderDisabled):
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("SSO provider is not enabled"))
	case errors.Is(err, sso.ErrSAMLNotImplemented):
		apierror.Abort(c, apierror.ErrNotImplemented.WithMessage("SAML sign-in is not available yet"))
	default:
		apierror.Abort(c, apierror.ErrInternal)
	}
}
