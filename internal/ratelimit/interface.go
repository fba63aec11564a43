package ratelimit

import (
	"context"
	"time"
)

// Verdict is a single strategy's answer for one request
type Verdict int

const (
	// Indeterminate means the strategy could not decide (store down, bad reply)
	Indeterminate Verdict = iota
	Allow
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "indeterminate"
	}
}

type Decision struct {
	Verdict   Verdict
	Strategy  string
	Limit     int
	Remaining int
	ResetAt   time.Time

	// Err explains an Indeterminate verdict
	Err error
}

func (d Decision) Allowed() bool {
	return d.Verdict != Deny
}

// Strategy counts one request against the (route, ip) bucket
type Strategy interface {
	Name() string

	Decide(ctx context.Context, route, ip string) Decision
}

// Config is process-wide and loaded once
type Config struct {
	Points int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Points <= 0 {
		c.Points = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

func remaining(points int, count int64) int {
	r := points - int(count)
	if r < 0 {
		return 0
	}
	return r
}
