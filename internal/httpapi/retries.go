package httpapi

import (
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"

	"github.com/gin-gonic/gin"
)

type scheduleRetryRequest struct {
	DelayMinutes *float64 `json:"delay_minutes"`
}

// resultCode maps a scheduler result to HTTP: unknown call 404, refusal 409.
func resultCode(success bool, message string) int {
	switch {
	case success:
		return http.StatusOK
	case message == retry.MsgCallNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func (h Handlers) ScheduleRetry(c *gin.Context) {
	var req scheduleRetryRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var delay *time.Duration
	if req.DelayMinutes != nil {
		d, ok := boundedDuration(*req.DelayMinutes, time.Minute, maxRetryDelay)
		if !ok {
			badRequest(c, "delay_minutes must be between 0 and 43200")
			return
		}
		delay = &d
	}

	callID := c.Param("call_id")
	res := h.Retries.ScheduleRetry(c.Request.Context(), callID, delay)
	if res.Success {
		h.record(c, audit.EventRetryScheduled, callID, res.Message, gin.H{"attempt": res.AttemptNumber, "job_id": res.JobID})
	}
	c.JSON(resultCode(res.Success, res.Message), res)
}

func (h Handlers) CancelRetry(c *gin.Context) {
	callID := c.Param("call_id")
	res := h.Retries.CancelRetry(c.Request.Context(), callID)
	if res.Success {
		h.record(c, audit.EventRetryCanceled, callID, res.Message, gin.H{"attempt": res.AttemptNumber})
	}
	c.JSON(resultCode(res.Success, res.Message), res)
}

type retryFailedRequest struct {
	StatusFilter []string `json:"status_filter"`
}

func (h Handlers) RetryFailed(c *gin.Context) {
	var req retryFailedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	statuses := make([]calls.Status, 0, len(req.StatusFilter))
	for _, v := range req.StatusFilter {
		st, err := calls.ParseStatus(v)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		statuses = append(statuses, st)
	}

	res := h.Retries.RetryFailedCalls(c.Request.Context(), statuses)
	h.record(c, audit.EventRetryFailedCalls, "", res.Message, gin.H{"matched": res.Matched, "scheduled": res.Scheduled})
	c.JSON(http.StatusOK, res)
}

func (h Handlers) RetryStatus(c *gin.Context) {
	// An unknown call is still a successful query, reported with call_found=false.
	c.JSON(http.StatusOK, h.Retries.Status(c.Request.Context(), c.Param("call_id")))
}

func (h Handlers) RetrySummary(c *gin.Context) {
	sum, err := h.Retries.Summary(c.Request.Context())
	if err != nil {
		internalError(c, "retry summary failed", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) UpdateRetryConfig(c *gin.Context) {
	var u retry.ConfigUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, err := h.Retries.UpdateConfig(u)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	view := p.View()
	h.record(c, audit.EventRetryConfigUpdated, "", "retry configuration updated", view)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Retry configuration updated", "config": view})
}
