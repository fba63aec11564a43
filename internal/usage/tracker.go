package usage

import (
	"context"
	"sync"
)

// Store persists the current counters between restarts
type Store interface {
	// Load returns nil when nothing has been saved yet
	Load(ctx context.Context) (*Counters, error)
	Save(ctx context.Context, c Counters) error
}

// Observer is called with fresh metrics after every change
type Observer func(Metrics)

// Tracker counts plan usage and derives upgrade prompts.
// One instance is shared by the whole process.
type Tracker struct {
	mu       sync.Mutex
	current  Counters
	limits   Counters
	store    Store
	observer Observer
}

type Option func(*Tracker)

func WithLimits(l Counters) Option {
	return func(t *Tracker) { t.limits = l }
}

func WithStore(s Store) Option {
	return func(t *Tracker) { t.store = s }
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		current: initialUsage(),
		limits:  DefaultLimits(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) TrackAPICall() []Trigger {
	return t.update(func(c *Counters) { c.APICalls++ })
}

func (t *Tracker) TrackExport() []Trigger {
	return t.update(func(c *Counters) { c.Exports++ })
}

func (t *Tracker) TrackTeamMember() []Trigger {
	return t.update(func(c *Counters) { c.TeamMembers++ })
}

func (t *Tracker) TrackStorage(mb float64) []Trigger {
	return t.update(func(c *Counters) { c.Storage += mb })
}

func (t *Tracker) TrackReport() []Trigger {
	return t.update(func(c *Counters) { c.Reports++ })
}

func (t *Tracker) update(fn func(*Counters)) []Trigger {
	t.mu.Lock()
	fn(&t.current)
	m := t.metricsLocked()
	t.mu.Unlock()

	t.notify(m)
	return evaluate(m)
}

func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked()
}

func (t *Tracker) metricsLocked() Metrics {
	return Metrics{
		Current:    t.current,
		Limits:     t.limits,
		Percentage: percentages(t.current, t.limits),
	}
}

func (t *Tracker) ActiveTriggers() []Trigger {
	return evaluate(t.Metrics())
}

// ShouldShowUpgrade reports whether any trigger is high or critical
func (t *Tracker) ShouldShowUpgrade() bool {
	for _, tr := range t.ActiveTriggers() {
		if tr.Priority == PriorityHigh || tr.Priority == PriorityCritical {
			return true
		}
	}
	return false
}

// CriticalTrigger returns the first critical trigger, else the first high
// one, else nil.
func (t *Tracker) CriticalTrigger() *Trigger {
	triggers := t.ActiveTriggers()
	for _, p := range []Priority{PriorityCritical, PriorityHigh} {
		for i := range triggers {
			if triggers[i].Priority == p {
				return &triggers[i]
			}
		}
	}
	return nil
}

// Reset restores the initial counters; limits are kept
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.current = initialUsage()
	m := t.metricsLocked()
	t.mu.Unlock()

	t.notify(m)
}

func (t *Tracker) SetLimits(u LimitsUpdate) Counters {
	t.mu.Lock()
	if u.APICalls != nil {
		t.limits.APICalls = *u.APICalls
	}
	if u.Exports != nil {
		t.limits.Exports = *u.Exports
	}
	if u.TeamMembers != nil {
		t.limits.TeamMembers = *u.TeamMembers
	}
	if u.Storage != nil {
		t.limits.Storage = *u.Storage
	}
	if u.Reports != nil {
		t.limits.Reports = *u.Reports
	}
	m := t.metricsLocked()
	t.mu.Unlock()

	t.notify(m)
	return m.Limits
}

// Load replaces the counters with the stored snapshot, if any
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	saved, err := t.store.Load(ctx)
	if err != nil || saved == nil {
		return err
	}

	t.mu.Lock()
	t.current = *saved
	m := t.metricsLocked()
	t.mu.Unlock()

	t.notify(m)
	return nil
}

func (t *Tracker) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	return t.store.Save(ctx, t.Metrics().Current)
}

func (t *Tracker) HasStore() bool {
	return t.store != nil
}

func (t *Tracker) notify(m Metrics) {
	if t.observer != nil {
		t.observer(m)
	}
}
