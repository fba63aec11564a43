package repository

import (
	"context"
	"time"

	"github.com/rightly/dsar-gateway/internal/models"
	"github.com/rightly/dsar-gateway/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves the audit trail of one request id
func (r *RequestLogRepository) FindByRequestID(ctx context.Context, requestID string) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	err := r.db.DB.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC").
		Find(&logs).Error

	return logs, err
}

// RouteCount is the request volume of one rate-limit route
type RouteCount struct {
	Route string `json:"route"`
	Count int64  `json:"count"`
}

// Counts logs in a time range
func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Calculates average response time
func (r *RequestLogRepository) AverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(response_time_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

// Calculates a response time percentile (postgres only)
func (r *RequestLogRepository) Percentile(ctx context.Context, from, to time.Time, percentile float64) (int, error) {
	var result float64
	query := `
		SELECT COALESCE(PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY response_time_ms), 0)
		FROM request_logs
		WHERE timestamp BETWEEN ? AND ?
	`

	err := r.db.DB.WithContext(ctx).Raw(query, percentile, from, to).Scan(&result).Error
	return int(result), err
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *RequestLogRepository) CountByStatusRange(ctx context.Context, minStatus, maxStatus int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatus, maxStatus, from, to).
		Count(&count).Error

	return count, err
}

// Returns the busiest rate-limit routes; unrouted requests are skipped
func (r *RequestLogRepository) TopRoutes(ctx context.Context, from, to time.Time, limit int) ([]RouteCount, error) {
	results := make([]RouteCount, 0, limit)

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("route, COUNT(*) as count").
		Where("route <> '' AND timestamp BETWEEN ? AND ?", from, to).
		Group("route").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes logs created before the cutoff
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
