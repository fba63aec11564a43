package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider    = errors.New("unknown sso provider")
	ErrProviderDisabled   = errors.New("sso provider is not enabled")
	ErrSAMLNotImplemented = errors.New("saml sign-in is not implemented")
)

type ProviderType string

const (
	TypeOAuth ProviderType = "oauth"
	TypeSAML  ProviderType = "saml"
)

type Provider struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        ProviderType `json:"type"`
	Description string       `json:"description"`
	Enabled     bool         `json:"isEnabled"`
}

type GoogleSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SAMLSettings are kept for the registry only, no SAML flow runs yet
type SAMLSettings struct {
	EntityID    string
	SSOURL      string
	Certificate string
}

type Settings struct {
	Google GoogleSettings
	Okta   SAMLSettings
	Azure  SAMLSettings
}

// User is the identity returned by a completed sign-in
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Name          string `json:"name"`
	Picture       string `json:"picture,omitempty"`
	Provider      string `json:"provider"`
	AccessToken   string `json:"-"`
	RefreshToken  string `json:"-"`
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type Manager struct {
	mu        sync.RWMutex
	providers []Provider

	google      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	saml        map[string]SAMLSettings
}

type Option func(*Manager)

// WithGoogleEndpoint points the OAuth flow at another server, e.g. in tests
func WithGoogleEndpoint(authURL, tokenURL, userInfoURL string) Option {
	return func(m *Manager) {
		m.google.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
		m.userInfoURL = userInfoURL
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.httpClient = hc }
}

func NewManager(s Settings, opts ...Option) *Manager {
	m := &Manager{
		providers: []Provider{
			{ID: "google", Name: "Google Workspace", Type: TypeOAuth, Description: "Sign in with your Google Workspace account", Enabled: true},
			{ID: "okta", Name: "Okta", Type: TypeSAML, Description: "Enterprise SSO with Okta", Enabled: false},
			{ID: "azure", Name: "Microsoft Azure AD", Type: TypeSAML, Description: "Azure Active Directory integration", Enabled: false},
		},
		google: &oauth2.Config{
			ClientID:     s.Google.ClientID,
			ClientSecret: s.Google.ClientSecret,
			RedirectURL:  s.Google.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleEndpoint,
		},
		userInfoURL: googleUserInfoURL,
		httpClient:  http.DefaultClient,
		saml: map[string]SAMLSettings{
			"okta":  s.Okta,
			"azure": s.Azure,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Provider(nil), m.providers...)
}

func (m *Manager) EnabledProviders() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enabled := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func (m *Manager) Provider(id string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

func (m *Manager) Toggle(id string, enabled bool) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.providers {
		if m.providers[i].ID == id {
			m.providers[i].Enabled = enabled
			return m.providers[i], nil
		}
	}
	return Provider{}, ErrUnknownProvider
}

// AuthURL returns where to send the browser to start sign-in
func (m *Manager) AuthURL(id, state string) (string, error) {
	p, ok := m.Provider(id)
	if !ok {
		return "", ErrUnknownProvider
	}
	if !p.Enabled {
		return "", ErrProviderDisabled
	}
	if p.Type == TypeSAML {
		return "", ErrSAMLNotImplemented
	}

	return m.google.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// HandleGoogleCallback exchanges the authorization code and fetches the
// profile of the signed-in user.
func (m *Manager) HandleGoogleCallback(ctx context.Context, code string) (*User, error) {
	p, ok := m.Provider("google")
	if !ok {
		return nil, ErrUnknownProvider
	}
	if !p.Enabled {
		return nil, ErrProviderDisabled
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	token, err := m.google.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange google code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := m.google.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch google userinfo: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("google userinfo status=%d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode google userinfo: %w", err)
	}

	return &User{
		ID:            info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		Picture:       info.Picture,
		Provider:      "google",
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
	}, nil
}

// SAMLSettings returns the configured entity for a SAML provider
func (m *Manager) SAMLSettings(id string) (SAMLSettings, bool) {
	s, ok := m.saml[id]
	return s, ok
}

// Configured reports whether the provider has the credentials its flow needs
func (m *Manager) Configured(id string) bool {
	if id == "google" {
		return m.google.ClientID != "" && m.google.ClientSecret != ""
	}
	s, ok := m.SAMLSettings(id)
	return ok && s.EntityID != "" && s.SSOURL != "" && s.Certificate != ""
}

// ProviderState is a provider as reported on the admin system page
type ProviderState struct {
	Provider
	Configured bool `json:"configured"`
}

func (m *Manager) States() []ProviderState {
	providers := m.Providers()
	out := make([]ProviderState, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderState{Provider: p, Configured: m.Configured(p.ID)})
	}
	return out
}
