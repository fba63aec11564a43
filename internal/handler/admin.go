package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/auth/sso"
	"github.com/rightly/dsar-gateway/internal/proxy"
)

// Admin console endpoints. Upstream answers, errors included, are relayed
// unchanged.
type AdminHandler struct {
	fwd *Forwarder
	sso *sso.Manager
}

func NewAdminHandler(fwd *Forwarder, ssoManager *sso.Manager) *AdminHandler {
	return &AdminHandler{fwd: fwd, sso: ssoManager}
}

func (h *AdminHandler) Users(c *gin.Context) {
	h.fwd.Forward(c, "admin_users", proxy.Request{Method: http.MethodGet, Path: "/admin/users"}, proxy.RelayOptions{})
}

func (h *AdminHandler) Audit(c *gin.Context) {
	q := url.Values{}
	q.Set("page", c.DefaultQuery("page", "1"))
	q.Set("limit", c.DefaultQuery("limit", "50"))

	h.fwd.Forward(c, "admin_audit", proxy.Request{
		Method: http.MethodGet,
		Path:   "/admin/audit?" + q.Encode(),
	}, proxy.RelayOptions{})
}

func (h *AdminHandler) Flags(c *gin.Context) {
	h.fwd.Forward(c, "admin_flags", proxy.Request{Method: http.MethodGet, Path: "/admin/flags"}, proxy.RelayOptions{})
}

func (h *AdminHandler) ToggleFlag(c *gin.Context) {
	h.fwd.Forward(c, "admin_flags_toggle", proxy.Request{
		Method: http.MethodPost,
		Path:   "/admin/flags/toggle",
		Body:   readJSONBody(c),
	}, proxy.RelayOptions{})
}

// Impersonation sets and clears the session cookie on the backend
func (h *AdminHandler) StartImpersonation(c *gin.Context) {
	h.fwd.Forward(c, "admin_impersonate", proxy.Request{
		Method: http.MethodPost,
		Path:   "/admin/impersonate",
		Body:   readJSONBody(c),
	}, proxy.RelayOptions{ForwardCookies: true})
}

func (h *AdminHandler) StopImpersonation(c *gin.Context) {
	h.fwd.Forward(c, "admin_impersonate", proxy.Request{
		Method: http.MethodDelete,
		Path:   "/admin/impersonate",
	}, proxy.RelayOptions{ForwardCookies: true})
}

func (h *AdminHandler) ToggleSSOProvider(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("enabled is required"))
		return
	}

	provider, err := h.sso.Toggle(c.Param("provider"), *req.Enabled)
	if errors.Is(err, sso.ErrUnknownProvider) {
		apierror.Abort(c, apierror.ErrNotFound.WithMessage("Unknown SSO provider"))
		return
	}

	c.JSON(http.StatusOK, provider)
}
