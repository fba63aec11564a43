package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/rightly/dsar-gateway/internal/auth/sso"
	"github.com/rightly/dsar-gateway/internal/auth/twofactor"
	"github.com/rightly/dsar-gateway/internal/models"
	"github.com/rightly/dsar-gateway/internal/proxy"
	"github.com/rightly/dsar-gateway/internal/service"
	"github.com/rightly/dsar-gateway/internal/usage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// upstreamCall is what the fake DSAR backend saw
type upstreamCall struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Forwarder, *[]upstreamCall) {
	t.Helper()

	calls := &[]upstreamCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*calls = append(*calls, upstreamCall{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Body:   string(body),
			Header: r.Header.Clone(),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := proxy.New(srv.URL)
	if err != nil {
		t.Fatalf("proxy.New: %v", err)
	}
	return NewForwarder(client, zap.NewNop(), nil), calls
}

func jsonReply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func do(r *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

func TestRequestsHandler_Create(t *testing.T) {
	fwd, calls := newUpstream(t, jsonReply(http.StatusCreated, `{"id":"req_1"}`))
	h := NewRequestsHandler(fwd)

	r := gin.New()
	r.POST("/api/requests", h.Create)

	tests := []struct {
		name     string
		body     string
		wantBody string
	}{
		{"json body passes through", `{"type":"access"}`, `{"type":"access"}`},
		{"invalid json becomes empty object", `not json`, `{}`},
		{"empty body becomes empty object", ``, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*calls = nil
			w := do(r, http.MethodPost, "/api/requests", tt.body, map[string]string{"X-Request-Id": "rid-1"})

			if w.Code != http.StatusCreated {
				t.Fatalf("status = %d, want 201", w.Code)
			}
			if w.Body.String() != `{"id":"req_1"}` {
				t.Errorf("body = %s", w.Body.String())
			}
			if len(*calls) != 1 {
				t.Fatalf("upstream calls = %d", len(*calls))
			}
			got := (*calls)[0]
			if got.Method != http.MethodPost || got.Path != "/api/v1/requests" {
				t.Errorf("upstream = %s %s", got.Method, got.Path)
			}
			if got.Body != tt.wantBody {
				t.Errorf("upstream body = %q, want %q", got.Body, tt.wantBody)
			}
			if w.Header().Get("X-Request-Id") == "" {
				t.Error("missing X-Request-Id on response")
			}
			if w.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestRequestsHandler_ListForwardsAuthorization(t *testing.T) {
	fwd, calls := newUpstream(t, jsonReply(http.StatusOK, `[]`))
	h := NewRequestsHandler(fwd)

	r := gin.New()
	r.GET("/api/requests", h.List)

	w := do(r, http.MethodGet, "/api/requests", "", map[string]string{"Authorization": "Bearer abc"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := (*calls)[0].Header.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestRequestsHandler_DownloadEscapesToken(t *testing.T) {
	fwd, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "export")
	})
	h := NewRequestsHandler(fwd)

	r := gin.New()
	r.GET("/api/downloads/:token", h.Download)

	w := do(r, http.MethodGet, "/api/downloads/a%20b", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "export" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if got := (*calls)[0].Path; got != "/api/v1/downloads/a%20b" {
		t.Errorf("upstream path = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestForwarder_UpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := proxy.New(base)
	if err != nil {
		t.Fatal(err)
	}
	h := NewRequestsHandler(NewForwarder(client, zap.NewNop(), nil))

	r := gin.New()
	r.GET("/api/requests", h.List)

	w := do(r, http.MethodGet, "/api/requests", "", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if code := errorCode(t, w); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %s", code)
	}
}

type recordingObserver struct {
	route  string
	status int
	kind   string
}

func (o *recordingObserver) ObserveUpstream(route string, status int, errKind string, _ time.Duration) {
	o.route, o.status, o.kind = route, status, errKind
}

func TestForwarder_ObservesUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(jsonReply(http.StatusAccepted, `{}`)))
	defer srv.Close()

	client, _ := proxy.New(srv.URL)
	obs := &recordingObserver{}
	h := NewRequestsHandler(NewForwarder(client, zap.NewNop(), obs))

	r := gin.New()
	r.POST("/api/requests", h.Create)
	do(r, http.MethodPost, "/api/requests", `{}`, nil)

	if obs.route != "requests_create" || obs.status != http.StatusAccepted || obs.kind != "" {
		t.Errorf("observed %+v", obs)
	}
}

func TestAuthHandler_Validation(t *testing.T) {
	fwd, calls := newUpstream(t, jsonReply(http.StatusOK, `{"ok":true}`))
	h := NewAuthHandler(fwd)

	r := gin.New()
	r.POST("/api/signup", h.Signup)
	r.POST("/api/auth/magic-link", h.MagicLink)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantPath   string
	}{
		{"signup missing company", "/api/signup", `{"email":"a@b.co"}`, http.StatusBadRequest, ""},
		{"signup invalid json", "/api/signup", `{`, http.StatusBadRequest, ""},
		{"signup ok", "/api/signup", `{"email":"a@b.co","company":"Acme"}`, http.StatusOK, "/api/v1/auth/signup"},
		{"magic link missing email", "/api/auth/magic-link", `{"email":"  "}`, http.StatusBadRequest, ""},
		{"magic link ok", "/api/auth/magic-link", `{"email":"a@b.co"}`, http.StatusOK, "/api/v1/auth/magic-link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*calls = nil
			w := do(r, http.MethodPost, tt.path, tt.body, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusBadRequest {
				if w.Body.String() != `{"ok":false}` {
					t.Errorf("body = %s", w.Body.String())
				}
				if len(*calls) != 0 {
					t.Error("invalid input reached upstream")
				}
				return
			}
			if len(*calls) != 1 || (*calls)[0].Path != tt.wantPath {
				t.Errorf("upstream calls = %+v", *calls)
			}
		})
	}
}

func TestAdminHandler_Proxying(t *testing.T) {
	fwd, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/users":
			jsonReply(http.StatusForbidden, `{"error":"not an admin"}`)(w, r)
		case "/admin/impersonate":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "imp"})
			http.SetCookie(w, &http.Cookie{Name: "admin_session", Value: "orig"})
			jsonReply(http.StatusOK, `{"ok":true}`)(w, r)
		default:
			jsonReply(http.StatusOK, `{}`)(w, r)
		}
	})
	h := NewAdminHandler(fwd, sso.NewManager(sso.Settings{}))

	r := gin.New()
	r.GET("/api/admin/users", h.Users)
	r.GET("/api/admin/audit", h.Audit)
	r.POST("/api/admin/flags", h.ToggleFlag)
	r.POST("/api/admin/impersonate", h.StartImpersonation)
	r.DELETE("/api/admin/impersonate", h.StopImpersonation)

	t.Run("upstream errors pass through", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/admin/users", "", nil)
		if w.Code != http.StatusForbidden || w.Body.String() != `{"error":"not an admin"}` {
			t.Errorf("got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("audit defaults", func(t *testing.T) {
		*calls = nil
		do(r, http.MethodGet, "/api/admin/audit", "", nil)
		q, _ := url.ParseQuery((*calls)[0].Query)
		if q.Get("page") != "1" || q.Get("limit") != "50" {
			t.Errorf("query = %s", (*calls)[0].Query)
		}
	})

	t.Run("audit explicit paging", func(t *testing.T) {
		*calls = nil
		do(r, http.MethodGet, "/api/admin/audit?page=3&limit=10", "", nil)
		q, _ := url.ParseQuery((*calls)[0].Query)
		if q.Get("page") != "3" || q.Get("limit") != "10" {
			t.Errorf("query = %s", (*calls)[0].Query)
		}
	})

	t.Run("flag toggle path", func(t *testing.T) {
		*calls = nil
		do(r, http.MethodPost, "/api/admin/flags", `{"flag":"x"}`, nil)
		if (*calls)[0].Path != "/admin/flags/toggle" || (*calls)[0].Body != `{"flag":"x"}` {
			t.Errorf("upstream = %+v", (*calls)[0])
		}
	})

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		t.Run("impersonate "+method+" forwards cookies", func(t *testing.T) {
			w := do(r, method, "/api/admin/impersonate", "", nil)
			cookies := w.Header().Values("Set-Cookie")
			if len(cookies) != 2 {
				t.Fatalf("Set-Cookie = %v", cookies)
			}
		})
	}
}

func TestAdminHandler_ToggleSSOProvider(t *testing.T) {
	manager := sso.NewManager(sso.Settings{})
	h := NewAdminHandler(nil, manager)

	r := gin.New()
	r.PUT("/api/admin/sso/:provider", h.ToggleSSOProvider)

	w := do(r, http.MethodPut, "/api/admin/sso/okta", `{"enabled":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if p, _ := manager.Provider("okta"); !p.Enabled {
		t.Error("okta not enabled")
	}

	if w := do(r, http.MethodPut, "/api/admin/sso/github", `{"enabled":true}`, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/api/admin/sso/okta", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", w.Code)
	}
}

func TestHealthHandler_Upstream(t *testing.T) {
	fwd, _ := newUpstream(t, jsonReply(http.StatusServiceUnavailable, `{"db":"down"}`))
	h := NewHealthHandler(fwd, nil)

	r := gin.New()
	r.GET("/api/healthz", h.Upstream)
	r.GET("/health", h.Health)

	w := do(r, http.MethodGet, "/api/healthz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Proxy   string            `json:"proxy"`
		Backend map[string]string `json:"backend"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Proxy != "ok" || body.Backend["db"] != "down" {
		t.Errorf("body = %+v", body)
	}

	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("liveness status = %d", w.Code)
	}
}

func TestUsageHandler(t *testing.T) {
	tracker := usage.NewTracker()
	h := NewUsageHandler(tracker)

	r := gin.New()
	r.GET("/api/usage", h.Metrics)
	r.GET("/api/usage/triggers", h.Triggers)
	r.POST("/api/usage/track/:kind", h.Track)
	r.PUT("/api/usage/limits", h.SetLimits)
	r.POST("/api/usage/reset", h.Reset)

	tests := []struct {
		name       string
		kind       string
		body       string
		wantStatus int
	}{
		{"api call", "api_call", "", http.StatusOK},
		{"export", "export", "", http.StatusOK},
		{"storage", "storage", `{"mb":12.5}`, http.StatusOK},
		{"storage without mb", "storage", `{}`, http.StatusBadRequest},
		{"storage negative", "storage", `{"mb":-1}`, http.StatusBadRequest},
		{"unknown kind", "widgets", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/usage/track/"+tt.kind, tt.body, nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	m := tracker.Metrics()
	if m.Current.APICalls != 1 || m.Current.Exports != 1 || m.Current.Storage != 12.5 {
		t.Errorf("current = %+v", m.Current)
	}

	// 4 of 5 exports trips the export trigger
	for i := 0; i < 3; i++ {
		do(r, http.MethodPost, "/api/usage/track/export", "", nil)
	}
	w := do(r, http.MethodGet, "/api/usage/triggers", "", nil)
	var triggers struct {
		Triggers []usage.Trigger `json:"triggers"`
		Show     bool            `json:"should_show_upgrade"`
		Critical *usage.Trigger  `json:"critical"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &triggers); err != nil {
		t.Fatal(err)
	}
	if !triggers.Show || len(triggers.Triggers) != 1 || triggers.Triggers[0].Type != usage.TriggerExportLimit {
		t.Errorf("triggers = %+v", triggers)
	}

	w = do(r, http.MethodPut, "/api/usage/limits", `{"exports":100}`, nil)
	if w.Code != http.StatusOK || tracker.Metrics().Limits.Exports != 100 {
		t.Errorf("set limits: %d %s", w.Code, w.Body.String())
	}

	do(r, http.MethodPost, "/api/usage/reset", "", nil)
	if got := tracker.Metrics().Current; got.APICalls != 0 || got.TeamMembers != 1 {
		t.Errorf("after reset = %+v", got)
	}
}

// session stands in for RequireAuth
func session(userID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
			c.Set("email", email)
		}
		c.Next()
	}
}

func newTwoFactorRouter(manager *twofactor.Manager, userID string) *gin.Engine {
	h := NewTwoFactorHandler(manager, zap.NewNop())

	r := gin.New()
	tf := r.Group("/api/auth/2fa", session(userID, userID+"@acme.io"))
	tf.POST("/setup", h.Setup)
	tf.POST("/enable", h.Enable)
	tf.POST("/verify", h.Verify)
	tf.POST("/:userId/recovery-codes", h.RegenerateRecoveryCodes)
	tf.GET("/:userId", h.Status)
	tf.DELETE("/:userId", h.Disable)
	return r
}

// enableTwoFactor turns 2FA on for userID and returns its recovery codes
func enableTwoFactor(t *testing.T, manager *twofactor.Manager, userID string) []string {
	t.Helper()

	setup, err := manager.GenerateSecret(userID + "@acme.io")
	if err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	codes, err := manager.Enable(context.Background(), userID, setup.Secret, code)
	if err != nil {
		t.Fatal(err)
	}
	return codes
}

func TestTwoFactorHandler_Flow(t *testing.T) {
	manager := twofactor.NewManager(twofactor.NewMemoryStore(), twofactor.WithBcryptCost(bcrypt.MinCost))
	r := newTwoFactorRouter(manager, "u1")

	if w := do(r, http.MethodPost, "/api/auth/2fa/setup", `{"email":"nope"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad email status = %d", w.Code)
	}

	// No body: the session email is used
	w := do(r, http.MethodPost, "/api/auth/2fa/setup", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("setup status = %d %s", w.Code, w.Body.String())
	}
	var setup twofactor.Setup
	if err := json.Unmarshal(w.Body.Bytes(), &setup); err != nil {
		t.Fatal(err)
	}
	if decoded, _ := url.PathUnescape(setup.OTPAuthURL); !strings.Contains(decoded, "u1@acme.io") {
		t.Errorf("otpauth = %s", setup.OTPAuthURL)
	}

	if w := do(r, http.MethodPost, "/api/auth/2fa/u1/recovery-codes", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("regenerate before enable status = %d", w.Code)
	}

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	enableBody, _ := json.Marshal(map[string]string{"secret": setup.Secret, "token": code})
	w = do(r, http.MethodPost, "/api/auth/2fa/enable", string(enableBody), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d %s", w.Code, w.Body.String())
	}
	var enabled struct {
		RecoveryCodes []string `json:"recoveryCodes"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &enabled)
	if len(enabled.RecoveryCodes) != 10 {
		t.Fatalf("recovery codes = %d", len(enabled.RecoveryCodes))
	}

	verifyBody, _ := json.Marshal(map[string]string{"token": enabled.RecoveryCodes[0]})
	for i, want := range []bool{true, false} {
		w = do(r, http.MethodPost, "/api/auth/2fa/verify", string(verifyBody), nil)
		var res struct {
			Valid bool `json:"valid"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &res)
		if res.Valid != want {
			t.Errorf("verify #%d = %v, want %v", i, res.Valid, want)
		}
	}

	w = do(r, http.MethodGet, "/api/auth/2fa/u1", "", nil)
	var status twofactor.Status
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if !status.Enabled || status.BackupCodesRemaining != 9 {
		t.Errorf("status = %+v", status)
	}

	do(r, http.MethodDelete, "/api/auth/2fa/u1", "", nil)
	w = do(r, http.MethodGet, "/api/auth/2fa/u1", "", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if status.Enabled {
		t.Error("still enabled after disable")
	}
}

func TestTwoFactorHandler_OtherUsersSettings(t *testing.T) {
	manager := twofactor.NewManager(twofactor.NewMemoryStore(), twofactor.WithBcryptCost(bcrypt.MinCost))
	codes := enableTwoFactor(t, manager, "victim")
	setup, _ := manager.GenerateSecret("attacker@acme.io")

	enableBody, _ := json.Marshal(map[string]string{"userId": "victim", "secret": setup.Secret, "token": "123456"})
	verifyBody, _ := json.Marshal(map[string]string{"userId": "victim", "token": codes[0]})

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/auth/2fa/victim/recovery-codes", ""},
		{http.MethodGet, "/api/auth/2fa/victim", ""},
		{http.MethodDelete, "/api/auth/2fa/victim", ""},
		{http.MethodPost, "/api/auth/2fa/enable", string(enableBody)},
		{http.MethodPost, "/api/auth/2fa/verify", string(verifyBody)},
	}

	tests := []struct {
		name       string
		session    string
		wantStatus int
		wantCode   string
	}{
		{"signed out", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"another user", "attacker", http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTwoFactorRouter(manager, tt.session)
			for _, req := range requests {
				w := do(r, req.method, req.path, req.body, nil)
				if w.Code != tt.wantStatus {
					t.Errorf("%s %s status = %d, want %d", req.method, req.path, w.Code, tt.wantStatus)
					continue
				}
				if got := errorCode(t, w); got != tt.wantCode {
					t.Errorf("%s %s code = %s", req.method, req.path, got)
				}
			}
		})
	}

	// The victim's settings are untouched and its recovery code still works once
	status, err := manager.Status(context.Background(), "victim")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Enabled || status.BackupCodesRemaining != 10 {
		t.Errorf("victim status = %+v", status)
	}
	valid, err := manager.Validate(context.Background(), "victim", codes[0])
	if err != nil || !valid {
		t.Errorf("victim recovery code valid = %v, err = %v", valid, err)
	}
}

func TestTwoFactorHandler_EnableRejectsBadCode(t *testing.T) {
	manager := twofactor.NewManager(twofactor.NewMemoryStore(), twofactor.WithBcryptCost(bcrypt.MinCost))
	r := newTwoFactorRouter(manager, "u1")

	setup, _ := manager.GenerateSecret("a@b.co")
	body, _ := json.Marshal(map[string]string{"secret": setup.Secret, "token": "abcdef"})
	w := do(r, http.MethodPost, "/api/auth/2fa/enable", string(body), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSSOHandler_Start(t *testing.T) {
	manager := sso.NewManager(sso.Settings{Google: sso.GoogleSettings{
		ClientID:    "client",
		RedirectURL: "http://localhost:3001/api/auth/sso/google/callback",
	}})
	h := NewSSOHandler(manager, service.NewAuthService("secret", time.Hour), zap.NewNop(), false, nil)

	r := gin.New()
	r.GET("/api/auth/sso/providers", h.Providers)
	r.GET("/api/auth/sso/:provider/start", h.Start)
	r.GET("/api/auth/sso/:provider/callback", h.Callback)

	w := do(r, http.MethodGet, "/api/auth/sso/google/start", "", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" || loc.Query().Get("client_id") != "client" {
		t.Errorf("location = %s", loc)
	}
	if cookie := w.Header().Get("Set-Cookie"); !strings.Contains(cookie, "sso_state="+state) || !strings.Contains(cookie, "HttpOnly") {
		t.Errorf("Set-Cookie = %q", cookie)
	}

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/auth/sso/github/start", http.StatusNotFound},
		{"/api/auth/sso/okta/start", http.StatusBadRequest},
		{"/api/auth/sso/okta/callback", http.StatusNotImplemented},
		{"/api/auth/sso/google/callback?code=x&state=forged", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(r, http.MethodGet, tt.path, "", nil); w.Code != tt.wantStatus {
			t.Errorf("%s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}
}

func TestSSOHandler_CallbackAssignsRole(t *testing.T) {
	type profile struct {
		email    string
		verified bool
	}
	profiles := map[string]profile{
		"admin-code":      {"DPO@acme.io", true},
		"unverified-code": {"dpo@acme.io", false},
		"user-code":       {"someone@gmail.com", true},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": r.Form.Get("code"), "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		p := profiles[code]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "g-" + code, "email": p.email, "verified_email": p.verified})
	})
	google := httptest.NewServer(mux)
	t.Cleanup(google.Close)

	manager := sso.NewManager(
		sso.Settings{Google: sso.GoogleSettings{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://app/cb"}},
		sso.WithGoogleEndpoint(google.URL+"/auth", google.URL+"/token", google.URL+"/userinfo"),
		sso.WithHTTPClient(google.Client()),
	)
	auth := service.NewAuthService("secret", time.Hour)
	h := NewSSOHandler(manager, auth, zap.NewNop(), false, []string{"dpo@acme.io"})

	r := gin.New()
	r.GET("/api/auth/sso/:provider/callback", h.Callback)

	tests := []struct {
		code     string
		wantRole string
	}{
		{"admin-code", service.RoleAdmin},
		{"unverified-code", service.RoleUser},
		{"user-code", service.RoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := do(r, http.MethodGet, "/api/auth/sso/google/callback?state=s1&code="+tt.code, "",
				map[string]string{"Cookie": "sso_state=s1"})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d %s", w.Code, w.Body.String())
			}
			var body struct {
				Token string `json:"token"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &body)

			identity, err := auth.ValidateToken(body.Token)
			if err != nil {
				t.Fatal(err)
			}
			if identity.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", identity.Role, tt.wantRole)
			}
		})
	}
}

type fakeFinder struct {
	logs []models.RequestLog
	err  error
}

func (f fakeFinder) FindByRequestID(_ context.Context, _ string) ([]models.RequestLog, error) {
	return f.logs, f.err
}

func TestAuditHandler_ByRequestID(t *testing.T) {
	tests := []struct {
		name       string
		finder     fakeFinder
		wantStatus int
	}{
		{"found", fakeFinder{logs: []models.RequestLog{{RequestID: "rid-1", StatusCode: 201}}}, http.StatusOK},
		{"missing", fakeFinder{}, http.StatusNotFound},
		{"db error", fakeFinder{err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/api/admin/requests/:requestId", NewAuditHandler(tt.finder, nil, zap.NewNop()).ByRequestID)

			w := do(r, http.MethodGet, "/api/admin/requests/rid-1", "", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

type fakeSummarizer struct {
	from, to time.Time
}

func (f *fakeSummarizer) Summary(_ context.Context, from, to time.Time) (*service.TrafficSummary, error) {
	f.from, f.to = from, to
	return &service.TrafficSummary{From: from, To: to, TotalRequests: 7}, nil
}

func TestAuditHandler_Traffic(t *testing.T) {
	summarizer := &fakeSummarizer{}
	r := gin.New()
	r.GET("/api/admin/traffic", NewAuditHandler(fakeFinder{}, summarizer, zap.NewNop()).Traffic)

	w := do(r, http.MethodGet, "/api/admin/traffic?from=2026-01-01T00:00:00Z&to=1767312000", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if !summarizer.from.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", summarizer.from)
	}
	if summarizer.to.Unix() != 1767312000 {
		t.Errorf("to = %v", summarizer.to)
	}

	// Default range is the last day
	do(r, http.MethodGet, "/api/admin/traffic", "", nil)
	if got := summarizer.to.Sub(summarizer.from); got != 24*time.Hour {
		t.Errorf("default range = %v", got)
	}

	if w := do(r, http.MethodGet, "/api/admin/traffic?from=yesterday", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d", w.Code)
	}
}
