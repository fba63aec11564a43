package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/proxy"
)

// Signup and passwordless sign-in
type AuthHandler struct {
	fwd *Forwarder
}

func NewAuthHandler(fwd *Forwarder) *AuthHandler {
	return &AuthHandler{fwd: fwd}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	body := readJSONBody(c)

	var req struct {
		Email   string `json:"email"`
		Company string `json:"company"`
	}
	_ = json.Unmarshal(body, &req)
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Company) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	h.fwd.Forward(c, "auth_signup", proxy.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/auth/signup",
		Body:   body,
	}, proxy.RelayOptions{})
}

func (h *AuthHandler) MagicLink(c *gin.Context) {
	body := readJSONBody(c)

	var req struct {
		Email string `json:"email"`
	}
	_ = json.Unmarshal(body, &req)
	if strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	h.fwd.Forward(c, "auth_magic_link", proxy.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/auth/magic-link",
		Body:   body,
	}, proxy.RelayOptions{})
}
