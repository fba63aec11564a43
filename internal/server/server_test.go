package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/config"
	"github.com/rightly/dsar-gateway/internal/service"
	"go.uber.org/zap"
)

const testOrigin = "http://localhost:3001"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0", Environment: "test"},
		Upstream:  config.UpstreamConfig{APIURL: apiURL, Timeout: 2 * time.Second},
		RateLimit: config.RateLimitConfig{Points: 60, WindowMs: 60_000},
		Security:  config.SecurityConfig{AllowedOrigins: testOrigin},
		SSO:       config.SSOConfig{AppURL: testOrigin},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/requests":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"req_1"}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig(upstream.URL)
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, zap.NewNop(), Stores{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = strings.NewReader(`{}`)
	}
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	w := serve(srv, http.MethodGet, "/health", map[string]string{"X-Request-Id": "rid-42"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Request-Id"); got != "rid-42" {
		t.Errorf("X-Request-Id = %q", got)
	}

	// The monitor assumes healthy until its first probe
	if w := serve(srv, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz status = %d %s", w.Code, w.Body.String())
	}
}

func TestServer_OriginGuardedWrite(t *testing.T) {
	srv := newTestServer(t, nil)

	w := serve(srv, http.MethodPost, "/api/requests", nil)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "FORBIDDEN_ORIGIN") {
		t.Errorf("no origin: %d %s", w.Code, w.Body.String())
	}

	w = serve(srv, http.MethodPost, "/api/requests", map[string]string{"Origin": testOrigin})
	if w.Code != http.StatusCreated || w.Body.String() != `{"id":"req_1"}` {
		t.Errorf("allowed origin: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != testOrigin {
		t.Errorf("missing CORS header")
	}
	if w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}

	// Reads are not origin-guarded
	if w := serve(srv, http.MethodGet, "/api/requests", map[string]string{"Origin": "https://evil.example"}); w.Code != http.StatusOK {
		t.Errorf("GET status = %d", w.Code)
	}
}

func TestServer_RateLimitAndMetrics(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.RateLimit.Points = 2 })
	headers := map[string]string{"Origin": testOrigin}

	for i := 0; i < 2; i++ {
		if w := serve(srv, http.MethodPost, "/api/auth/magic-link", headers); w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i)
		}
	}

	w := serve(srv, http.MethodPost, "/api/auth/magic-link", headers)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Buckets are per route
	if w := serve(srv, http.MethodPost, "/api/requests", headers); w.Code != http.StatusCreated {
		t.Errorf("other route status = %d", w.Code)
	}

	w = serve(srv, http.MethodGet, "/metrics", nil)
	body := w.Body.String()
	for _, want := range []string{
		`gateway_ratelimit_decisions_total{route="auth_magic_link",strategy="memory",verdict="deny"} 1`,
		`gateway_upstream_requests_total{route="requests_create",status="201"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestServer_AdminAuth(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.JWTSecret = "test-secret"
		c.Security.JWTExpiry = time.Hour
	})

	if w := serve(srv, http.MethodGet, "/api/admin/users", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}

	token, err := service.NewAuthService("test-secret", time.Hour).IssueToken(service.Identity{UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	w := serve(srv, http.MethodGet, "/api/admin/users", map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Errorf("with token status = %d %s", w.Code, w.Body.String())
	}

	w = serve(srv, http.MethodGet, "/api/admin/system", map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"memory"`) {
		t.Errorf("system status = %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"configured":false`) {
		t.Errorf("system status missing sso providers: %s", w.Body.String())
	}
}

func TestServer_AdminRejectsUserRole(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.JWTSecret = "test-secret"
		c.Security.JWTExpiry = time.Hour
	})

	token, err := service.NewAuthService("test-secret", time.Hour).IssueToken(service.Identity{
		UserID: "g-1", Email: "someone@gmail.com", Role: service.RoleUser, Provider: "google",
	})
	if err != nil {
		t.Fatal(err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token, "Origin": testOrigin}

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/admin/users"},
		{http.MethodGet, "/api/admin/system"},
		{http.MethodPost, "/api/admin/system/ratelimit/reset"},
		{http.MethodPost, "/api/admin/impersonate"},
		{http.MethodPost, "/api/admin/flags"},
		{http.MethodPut, "/api/admin/sso/okta"},
	}
	for _, rt := range routes {
		w := serve(srv, rt.method, rt.path, headers)
		if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), `"FORBIDDEN"`) {
			t.Errorf("%s %s = %d %s", rt.method, rt.path, w.Code, w.Body.String())
		}
	}
}

func TestServer_TwoFactorRequiresSession(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.JWTSecret = "test-secret"
		c.Security.JWTExpiry = time.Hour
	})

	signedOut := map[string]string{"Origin": testOrigin}
	for _, path := range []string{"/api/auth/2fa/victim/recovery-codes", "/api/auth/2fa/verify", "/api/auth/2fa/enable", "/api/auth/2fa/setup"} {
		if w := serve(srv, http.MethodPost, path, signedOut); w.Code != http.StatusUnauthorized {
			t.Errorf("signed out POST %s = %d %s", path, w.Code, w.Body.String())
		}
	}
	if w := serve(srv, http.MethodDelete, "/api/auth/2fa/victim", signedOut); w.Code != http.StatusUnauthorized {
		t.Errorf("signed out DELETE = %d", w.Code)
	}

	token, err := service.NewAuthService("test-secret", time.Hour).IssueToken(service.Identity{UserID: "attacker", Role: service.RoleUser})
	if err != nil {
		t.Fatal(err)
	}
	other := map[string]string{"Origin": testOrigin, "Authorization": "Bearer " + token}
	for _, rt := range []struct{ method, path string }{
		{http.MethodPost, "/api/auth/2fa/victim/recovery-codes"},
		{http.MethodGet, "/api/auth/2fa/victim"},
		{http.MethodDelete, "/api/auth/2fa/victim"},
	} {
		if w := serve(srv, rt.method, rt.path, other); w.Code != http.StatusForbidden {
			t.Errorf("cross-user %s %s = %d %s", rt.method, rt.path, w.Code, w.Body.String())
		}
	}
}

func TestServer_TwoFactorWithoutSecret(t *testing.T) {
	srv := newTestServer(t, nil)

	w := serve(srv, http.MethodPost, "/api/auth/2fa/victim/recovery-codes", map[string]string{"Origin": testOrigin})
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d %s", w.Code, w.Body.String())
	}
}

func TestServer_AdminOpenWithoutSecret(t *testing.T) {
	srv := newTestServer(t, nil)

	if w := serve(srv, http.MethodGet, "/api/admin/flags", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestServer_Preflight(t *testing.T) {
	srv := newTestServer(t, nil)

	w := serve(srv, http.MethodOptions, "/api/requests", map[string]string{"Origin": testOrigin})
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
}

func TestNew_InvalidTrustedProxies(t *testing.T) {
	cfg := testConfig("http://localhost:4000")
	cfg.RateLimit.TrustedProxies = "not-a-cidr"

	if _, err := New(cfg, zap.NewNop(), Stores{}); err == nil {
		t.Error("expected error for invalid TRUSTED_PROXIES")
	}
}
