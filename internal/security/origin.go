package security

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rightly/dsar-gateway/internal/apierror"
)

// Only these methods are origin-gated; reads pass through.
var stateChangingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// OriginGuard rejects cross-origin state-changing requests.
// The allow-list is fixed at construction.
type OriginGuard struct {
	allowed map[string]struct{}
}

func NewOriginGuard(allowed []string) *OriginGuard {
	g := &OriginGuard{allowed: make(map[string]struct{}, len(allowed))}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if norm, ok := NormalizeOrigin(entry); ok {
			g.allowed[norm] = struct{}{}
			continue
		}
		g.allowed[strings.ToLower(entry)] = struct{}{}
	}
	return g
}

// NormalizeOrigin reduces an origin to lowercase scheme://host[:port]
func NormalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (g *OriginGuard) IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	norm, ok := NormalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := g.allowed[norm]
	return allowed
}

// Check returns nil when the request may proceed
func (g *OriginGuard) Check(r *http.Request) *apierror.Error {
	if !stateChangingMethods[strings.ToUpper(r.Method)] {
		return nil
	}

	if !g.IsAllowedOrigin(r.Header.Get("Origin")) {
		return apierror.ErrForbiddenOrigin
	}

	// net/http moves the Host header into r.Host
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return apierror.ErrBadHost
	}

	return nil
}

// Returns the normalized allow-list entries
func (g *OriginGuard) Allowed() []string {
	out := make([]string, 0, len(g.allowed))
	for origin := range g.allowed {
		out = append(out, origin)
	}
	return out
}
