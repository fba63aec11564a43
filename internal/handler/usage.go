package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/usage"
)

type UsageHandler struct {
	tracker *usage.Tracker
}

func NewUsageHandler(tracker *usage.Tracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

func (h *UsageHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Metrics())
}

func (h *UsageHandler) Triggers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"triggers":            h.tracker.ActiveTriggers(),
		"should_show_upgrade": h.tracker.ShouldShowUpgrade(),
		"critical":            h.tracker.CriticalTrigger(),
	})
}

// Track records one event of the given kind. Storage takes {"mb": n}.
func (h *UsageHandler) Track(c *gin.Context) {
	var triggers []usage.Trigger

	switch c.Param("kind") {
	case "api_call":
		triggers = h.tracker.TrackAPICall()
	case "export":
		triggers = h.tracker.TrackExport()
	case "team_member":
		triggers = h.tracker.TrackTeamMember()
	case "report":
		triggers = h.tracker.TrackReport()
	case "storage":
		var req struct {
			MB *float64 `json:"mb" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || *req.MB < 0 {
			apierror.Abort(c, apierror.ErrBadRequest.WithMessage("mb must be a non-negative number"))
			return
		}
		triggers = h.tracker.TrackStorage(*req.MB)
	default:
		apierror.Abort(c, apierror.ErrBadRequest.WithMessage("Unknown usage kind"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"triggers": triggers,
		"metrics":  h.tracker.Metrics(),
	})
}

func (h *UsageHandler) SetLimits(c *gin.Context) {
	var req usage.LimitsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Abort(c, apierror.ErrBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": h.tracker.SetLimits(req)})
}

func (h *UsageHandler) Reset(c *gin.Context) {
	h.tracker.Reset()
	c.JSON(http.StatusOK, h.tracker.Metrics())
}
