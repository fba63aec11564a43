package ratelimit

import (
	"context"

	"go.uber.org/zap"
)

// Observer sees every final decision, e.g. for metrics
type Observer func(route string, d Decision)

// Limiter tries its strategies in order and stops at the first one that can
// decide. When none can, the request is allowed.
type Limiter struct {
	strategies []Strategy
	log        *zap.Logger
	observer   Observer
}

func NewLimiter(log *zap.Logger, strategies ...Strategy) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{strategies: strategies, log: log}
}

func (l *Limiter) WithObserver(o Observer) *Limiter {
	l.observer = o
	return l
}

func (l *Limiter) Allow(ctx context.Context, route, ip string) Decision {
	decision := Decision{Verdict: Indeterminate}

	for _, s := range l.strategies {
		d := s.Decide(ctx, route, ip)
		if d.Verdict != Indeterminate {
			decision = d
			break
		}
		l.log.Debug("rate limit strategy indeterminate, falling back",
			zap.String("strategy", s.Name()),
			zap.String("route", route),
			zap.Error(d.Err),
		)
	}

	if decision.Verdict == Indeterminate {
		decision.Verdict = Allow
	}

	if l.observer != nil {
		l.observer(route, decision)
	}
	return decision
}

// Returns strategy names in evaluation order
func (l *Limiter) Strategies() []string {
	names := make([]string, 0, len(l.strategies))
	for _, s := range l.strategies {
		names = append(names, s.Name())
	}
	return names
}
