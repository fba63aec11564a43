package proxy

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// EnsureRequestID returns the caller's x-request-id, or a fresh UUIDv4
func EnsureRequestID(r *http.Request) string {
	if r != nil {
		if rid := strings.TrimSpace(r.Header.Get(HeaderRequestID)); rid != "" {
			return rid
		}
	}
	return NewRequestID()
}

func NewRequestID() string {
	return uuid.NewString()
}
