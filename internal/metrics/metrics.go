package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rightly/dsar-gateway/internal/ratelimit"
	"github.com/rightly/dsar-gateway/internal/usage"
)

// Metrics holds the gateway collectors. Each server owns its own registry.
type Metrics struct {
	registry *prometheus.Registry

	OriginRejections  *prometheus.CounterVec
	RateLimitDecision *prometheus.CounterVec
	UpstreamRequests  *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	UsagePercentage   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OriginRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_origin_rejections_total",
				Help: "Requests rejected by the origin guard",
			},
			[]string{"code"}, // FORBIDDEN_ORIGIN|BAD_HOST
		),
		RateLimitDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_decisions_total",
				Help: "Rate limit decisions by route, deciding strategy and verdict",
			},
			[]string{"route", "strategy", "verdict"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Upstream calls by route and status (status is the error kind on transport failure)",
			},
			[]string{"route", "status"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Upstream call latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		UsagePercentage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_usage_percentage",
				Help: "Plan usage as a percentage of the limit",
			},
			[]string{"dimension"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OriginRejections,
		m.RateLimitDecision,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.UsagePercentage,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOriginRejection(code string) {
	m.OriginRejections.WithLabelValues(code).Inc()
}

// ObserveRateLimit matches ratelimit.Observer
func (m *Metrics) ObserveRateLimit(route string, d ratelimit.Decision) {
	strategy := d.Strategy
	if strategy == "" {
		strategy = "none"
	}
	m.RateLimitDecision.WithLabelValues(route, strategy, d.Verdict.String()).Inc()
}

// ObserveUpstream records one proxied call; status is empty on transport error
func (m *Metrics) ObserveUpstream(route string, status int, errKind string, elapsed time.Duration) {
	label := errKind
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(route, label).Inc()
	m.UpstreamDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveUsage matches usage.Observer
func (m *Metrics) ObserveUsage(u usage.Metrics) {
	m.UsagePercentage.WithLabelValues("api_calls").Set(u.Percentage.APICalls)
	m.UsagePercentage.WithLabelValues("exports").Set(u.Percentage.Exports)
	m.UsagePercentage.WithLabelValues("team_members").Set(u.Percentage.TeamMembers)
	m.UsagePercentage.WithLabelValues("storage").Set(u.Percentage.Storage)
	m.UsagePercentage.WithLabelValues("reports").Set(u.Percentage.Reports)
}
