package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestIPResolver_HeadersTrustedByDefault(t *testing.T) {
	r, err := NewIPResolver(nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"xff first entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"xff wins over cf", map[string]string{"X-Forwarded-For": "203.0.113.7", "CF-Connecting-IP": "198.51.100.1"}, "203.0.113.7"},
		{"cf connecting ip", map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Real-IP": "192.0.2.9"}, "198.51.100.1"},
		{"x-real-ip", map[string]string{"X-Real-IP": "192.0.2.9"}, "192.0.2.9"},
		{"empty xff falls through", map[string]string{"X-Forwarded-For": " , ", "X-Real-IP": "192.0.2.9"}, "192.0.2.9"},
		{"nothing", nil, UnknownIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/requests", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := r.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIPResolver_TrustedProxies(t *testing.T) {
	r, err := NewIPResolver([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer ignores headers", "203.0.113.50:4000", "1.1.1.1", "203.0.113.50"},
		{"trusted peer uses rightmost untrusted hop", "10.1.2.3:4000", "1.1.1.1, 2.2.2.2, 10.9.9.9", "2.2.2.2"},
		{"bare ip entry is trusted", "192.168.1.5:4000", "8.8.8.8", "8.8.8.8"},
		{"trusted peer without headers", "10.1.2.3:4000", "", "10.1.2.3"},
		{"all hops trusted", "10.1.2.3:4000", "10.0.0.9", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/requests", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := r.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewIPResolver_InvalidCIDR(t *testing.T) {
	if _, err := NewIPResolver([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for invalid proxy entry")
	}
}
