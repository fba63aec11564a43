package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestEnsureRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-request-id", "incoming-123")
	if got := EnsureRequestID(r); got != "incoming-123" {
		t.Errorf("EnsureRequestID = %q, want incoming id", got)
	}

	bare := httptest.NewRequest("GET", "/", nil)
	a, b := EnsureRequestID(bare), EnsureRequestID(bare)
	if a == b {
		t.Error("generated ids collided")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("generated id %q is not a uuid: %v", a, err)
	}
	if EnsureRequestID(nil) == "" {
		t.Error("nil request should still get an id")
	}
}
