package apierror

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is the structured body returned for every gateway-generated failure:
// {"error":{"code":"...","message":"..."}}
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Returns a copy of e carrying a different message
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Status: e.Status, Code: e.Code, Message: msg}
}

var (
	ErrForbiddenOrigin     = &Error{Status: http.StatusForbidden, Code: "FORBIDDEN_ORIGIN", Message: "Origin not allowed"}
	ErrBadHost             = &Error{Status: http.StatusBadRequest, Code: "BAD_HOST", Message: "Missing host"}
	ErrRateLimited         = &Error{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "Too many requests"}
	ErrUpstreamTimeout     = &Error{Status: http.StatusGatewayTimeout, Code: "UPSTREAM_TIMEOUT", Message: "Upstream request timed out"}
	ErrUpstreamUnavailable = &Error{Status: http.StatusBadGateway, Code: "UPSTREAM_UNAVAILABLE", Message: "Upstream unavailable"}
	ErrUnauthorized        = &Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrForbidden           = &Error{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Insufficient permissions"}
	ErrBadRequest          = &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Invalid request"}
	ErrNotFound            = &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Not found"}
	ErrNotImplemented      = &Error{Status: http.StatusNotImplemented, Code: "NOT_IMPLEMENTED", Message: "Not implemented"}
	ErrInternal            = &Error{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "Internal server error"}
)

// Body wraps the error in its response envelope
func Body(e *Error) gin.H {
	return gin.H{"error": e}
}

// Writes the error and stops the middleware chain
func Abort(c *gin.Context, e *Error) {
	c.AbortWithStatusJSON(e.Status, Body(e))
}
