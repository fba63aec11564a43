package service

import (
	"context"
	"time"

	"github.com/rightly/dsar-gateway/internal/repository"
)

// TrafficStats is the slice of the request log repository the summary needs
type TrafficStats interface {
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	AverageResponseTime(ctx context.Context, from, to time.Time) (float64, error)
	Percentile(ctx context.Context, from, to time.Time, percentile float64) (int, error)
	CountByStatusRange(ctx context.Context, minStatus, maxStatus int, from, to time.Time) (int64, error)
	TopRoutes(ctx context.Context, from, to time.Time, limit int) ([]repository.RouteCount, error)
}

type TrafficService struct {
	stats TrafficStats
}

func NewTrafficService(stats TrafficStats) *TrafficService {
	return &TrafficService{stats: stats}
}

// Holds the gateway traffic summary for a time range
type TrafficSummary struct {
	From            time.Time               `json:"from"`
	To              time.Time               `json:"to"`
	TotalRequests   int64                   `json:"total_requests"`
	AvgResponseTime float64                 `json:"avg_response_time_ms"`
	P50ResponseTime int                     `json:"p50_response_time_ms"`
	P95ResponseTime int                     `json:"p95_response_time_ms"`
	P99ResponseTime int                     `json:"p99_response_time_ms"`
	SuccessRate     float64                 `json:"success_rate"`
	ClientErrorRate float64                 `json:"client_error_rate"`
	ServerErrorRate float64                 `json:"server_error_rate"`
	RateLimited     int64                   `json:"rate_limited"`
	Rejected        int64                   `json:"origin_rejected"`
	TopRoutes       []repository.RouteCount `json:"top_routes"`
}

// Summarizes audited gateway traffic between from and to
func (s *TrafficService) Summary(ctx context.Context, from, to time.Time) (*TrafficSummary, error) {
	summary := &TrafficSummary{From: from, To: to, TopRoutes: []repository.RouteCount{}}

	total, err := s.stats.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = total

	if total == 0 {
		return summary, nil
	}

	if summary.AvgResponseTime, err = s.stats.AverageResponseTime(ctx, from, to); err != nil {
		return nil, err
	}

	// Percentiles are best effort
	summary.P50ResponseTime, _ = s.stats.Percentile(ctx, from, to, 0.50)
	summary.P95ResponseTime, _ = s.stats.Percentile(ctx, from, to, 0.95)
	summary.P99ResponseTime, _ = s.stats.Percentile(ctx, from, to, 0.99)

	clientErrors, err := s.stats.CountByStatusRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}
	serverErrors, err := s.stats.CountByStatusRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}
	if summary.RateLimited, err = s.stats.CountByStatusRange(ctx, 429, 429, from, to); err != nil {
		return nil, err
	}
	if summary.Rejected, err = s.stats.CountByStatusRange(ctx, 403, 403, from, to); err != nil {
		return nil, err
	}

	summary.ClientErrorRate = float64(clientErrors*100) / float64(total)
	summary.ServerErrorRate = float64(serverErrors*100) / float64(total)
	summary.SuccessRate = 100 - summary.ClientErrorRate - summary.ServerErrorRate

	routes, err := s.stats.TopRoutes(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopRoutes = routes

	return summary, nil
}
