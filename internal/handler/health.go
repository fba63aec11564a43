package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/healthcheck"
	"github.com/rightly/dsar-gateway/internal/proxy"
)

const Version = "1.0.0"

type HealthHandler struct {
	fwd     *Forwarder
	checker *healthcheck.Checker
}

func NewHealthHandler(fwd *Forwarder, checker *healthcheck.Checker) *HealthHandler {
	return &HealthHandler{fwd: fwd, checker: checker}
}

// Liveness, no dependencies touched
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "dsar-gateway",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// Readiness from the background monitor plus dependency probes
func (h *HealthHandler) Ready(c *gin.Context) {
	report := h.checker.Report(c.Request.Context())

	status := http.StatusOK
	if report.Status != healthcheck.Healthy.String() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Upstream returns the backend health wrapped with the proxy status
func (h *HealthHandler) Upstream(c *gin.Context) {
	resp, err := h.fwd.Call(c, "healthz", proxy.Request{Method: http.MethodGet, Path: "/healthz"})
	if err != nil {
		proxy.AbortWithError(c, err)
		return
	}

	var backend interface{} = string(resp.Body)
	if json.Valid(resp.Body) {
		backend = json.RawMessage(resp.Body)
	}

	c.Header(proxy.HeaderRequestID, resp.RequestID)
	c.JSON(resp.StatusCode, gin.H{"proxy": "ok", "backend": backend})
}
