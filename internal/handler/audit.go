package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/models"
	"github.com/rightly/dsar-gateway/internal/service"
	"go.uber.org/zap"
)

type RequestLogFinder interface {
	FindByRequestID(ctx context.Context, requestID string) ([]models.RequestLog, error)
}

type TrafficSummarizer interface {
	Summary(ctx context.Context, from, to time.Time) (*service.TrafficSummary, error)
}

// Serves the gateway's own request audit trail
type AuditHandler struct {
	logs    RequestLogFinder
	traffic TrafficSummarizer
	log     *zap.Logger
}

func NewAuditHandler(logs RequestLogFinder, traffic TrafficSummarizer, log *zap.Logger) *AuditHandler {
	return &AuditHandler{logs: logs, traffic: traffic, log: log}
}

// Handles GET /api/admin/requests/:requestId
func (h *AuditHandler) ByRequestID(c *gin.Context) {
	requestID := c.Param("requestId")

	entries, err := h.logs.FindByRequestID(c.Request.Context(), requestID)
	if err != nil {
		h.log.Error("request log lookup failed", zap.String("rid", requestID), zap.Error(err))
		apierror.Abort(c, apierror.ErrInternal)
		return
	}
	if len(entries) == 0 {
		apierror.Abort(c, apierror.ErrNotFound.WithMessage("No log entries for request"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"entries":    entries,
	})
}

// Handles GET /api/admin/traffic?from=&to=
func (h *AuditHandler) Traffic(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("from/to must be RFC3339 or unix seconds"))
		return
	}

	summary, err := h.traffic.Summary(c.Request.Context(), from, to)
	if err != nil {
		h.log.Error("traffic summary failed", zap.Error(err))
		apierror.Abort(c, apierror.ErrInternal)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Parses 'from' and 'to'; defaults to the last 24 hours
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}

	return from, to, nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	// Try Unix timestamp
	if ts, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		return time.Unix(ts, 0), nil
	}
	return time.Time{}, err
}
