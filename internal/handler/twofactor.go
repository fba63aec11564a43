package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/auth/twofactor"
	"go.uber.org/zap"
)

type TwoFactorHandler struct {
	manager *twofactor.Manager
	log     *zap.Logger
}

func NewTwoFactorHandler(manager *twofactor.Manager, log *zap.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{manager: manager, log: log}
}

// Returns the signed-in user id. A user id named in the path or body must
// be the caller's own.
func sessionUser(c *gin.Context, claimed string) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		apierror.Abort(c, apierror.ErrUnauthorized)
		return "", false
	}
	if claimed != "" && claimed != userID {
		apierror.Abort(c, apierror.ErrForbidden.WithMessage("Two-factor settings belong to another user"))
		return "", false
	}
	return userID, true
}

// Setup issues a new secret. The email defaults to the session's.
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	if _, ok := sessionUser(c, ""); !ok {
		return
	}

	var req struct {
		Email string `json:"email" binding:"omitempty,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("A valid email is required"))
		return
	}
	if req.Email == "" {
		req.Email = c.GetString("email")
	}
	if req.Email == "" {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("A valid email is required"))
		return
	}

	setup, err := h.manager.GenerateSecret(req.Email)
	if err != nil {
		h.log.Error("2fa setup failed", zap.Error(err))
		apierror.Abort(c, apierror.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (h *TwoFactorHandler) Enable(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		Secret string `json:"secret" binding:"required"`
		Token  string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("secret and token are required"))
		return
	}
	userID, ok := sessionUser(c, req.UserID)
	if !ok {
		return
	}

	codes, err := h.manager.Enable(c.Request.Context(), userID, req.Secret, req.Token)
	if errors.Is(err, twofactor.ErrInvalidToken) {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("Invalid verification code"))
		return
	}
	if err != nil {
		h.log.Error("2fa enable failed", zap.String("user_id", userID), zap.Error(err))
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": true, "recoveryCodes": codes})
}

// Verify accepts a TOTP code or a recovery code
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		Token  string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("token is required"))
		return
	}
	userID, ok := sessionUser(c, req.UserID)
	if !ok {
		return
	}

	valid, err := h.manager.Validate(c.Request.Context(), userID, req.Token)
	if err != nil {
		h.log.Error("2fa verify failed", zap.String("user_id", userID), zap.Error(err))
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *TwoFactorHandler) RegenerateRecoveryCodes(c *gin.Context) {
	userID, ok := sessionUser(c, c.Param("userId"))
	if !ok {
		return
	}

	codes, err := h.manager.RegenerateBackupCodes(c.Request.Context(), userID)
	if errors.Is(err, twofactor.ErrNotEnabled) {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("Two-factor authentication is not enabled"))
		return
	}
	if err != nil {
		h.log.Error("2fa recovery codes failed", zap.String("user_id", userID), zap.Error(err))
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recoveryCodes": codes})
}

func (h *TwoFactorHandler) Status(c *gin.Context) {
	userID, ok := sessionUser(c, c.Param("userId"))
	if !ok {
		return
	}

	status, err := h.manager.Status(c.Request.Context(), userID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID, ok := sessionUser(c, c.Param("userId"))
	if !ok {
		return
	}

	if err := h.manager.Disable(c.Request.Context(), userID); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}
