package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// UnknownIP is used when no client address can be derived
const UnknownIP = "0.0.0.0"

// IPResolver derives the client identity used for rate-limit buckets.
//
// With no trusted proxies configured, forwarding headers are taken at face
// value (X-Forwarded-For, CF-Connecting-IP, X-Real-IP) which lets clients pick
// their own bucket. With trusted proxies, headers are only read when the TCP
// peer is one of them.
type IPResolver struct {
	trusted []*net.IPNet
}

func NewIPResolver(trustedCIDRs []string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, cidr := range trustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil && ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

func (r *IPResolver) ClientIP(req *http.Request) string {
	if len(r.trusted) == 0 {
		if ip := headerIP(req); ip != "" {
			return ip
		}
		return UnknownIP
	}

	peer := remoteIP(req)
	if peer == "" {
		return UnknownIP
	}
	if !r.isTrusted(peer) {
		return peer
	}

	// Walk X-Forwarded-For from the closest hop outwards
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !r.isTrusted(hop) {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func (r *IPResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range r.trusted {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func headerIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return strings.TrimSpace(req.Header.Get("X-Real-IP"))
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
