package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rightly/dsar-gateway/internal/ratelimit"
	"github.com/rightly/dsar-gateway/internal/usage"
)

func TestMetrics_Observers(t *testing.T) {
	m := New()

	m.ObserveOriginRejection("FORBIDDEN_ORIGIN")
	m.ObserveOriginRejection("FORBIDDEN_ORIGIN")
	if got := testutil.ToFloat64(m.OriginRejections.WithLabelValues("FORBIDDEN_ORIGIN")); got != 2 {
		t.Errorf("origin rejections = %v", got)
	}

	m.ObserveRateLimit("requests_create", ratelimit.Decision{Verdict: ratelimit.Deny, Strategy: "memory"})
	m.ObserveRateLimit("requests_create", ratelimit.Decision{Verdict: ratelimit.Allow})
	if got := testutil.ToFloat64(m.RateLimitDecision.WithLabelValues("requests_create", "memory", "deny")); got != 1 {
		t.Errorf("deny decisions = %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDecision.WithLabelValues("requests_create", "none", "allow")); got != 1 {
		t.Errorf("fail-open decisions = %v", got)
	}

	m.ObserveUpstream("requests_create", 201, "", 30*time.Millisecond)
	m.ObserveUpstream("requests_create", 0, "timeout", 10*time.Second)
	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("requests_create", "201")); got != 1 {
		t.Errorf("upstream 201 = %v", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("requests_create", "timeout")); got != 1 {
		t.Errorf("upstream timeout = %v", got)
	}

	tracker := usage.NewTracker(usage.WithObserver(m.ObserveUsage))
	for i := 0; i < 800; i++ {
		tracker.TrackAPICall()
	}
	if got := testutil.ToFloat64(m.UsagePercentage.WithLabelValues("api_calls")); got != 80 {
		t.Errorf("api usage gauge = %v, want 80", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two servers in one process must not collide
	a, b := New(), New()
	if a.Registry() == b.Registry() {
		t.Error("registries are shared")
	}
}
