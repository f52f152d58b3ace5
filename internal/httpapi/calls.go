package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/bulk"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"

	"github.com/gin-gonic/gin"
)

type startBatchRequest struct {
	ContactIDs []string `json:"contact_ids"`
	Script     string   `json:"call_script"`

	// DelaySeconds is the pacing between calls; omitted means the server default.
	DelaySeconds *float64 `json:"delay_seconds"`
}

// StartBatch dispatches calls sequentially and answers when the whole batch is done.
func (h Handlers) StartBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if len(req.ContactIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "No contacts selected"})
		return
	}

	br := bulk.Request{ContactIDs: req.ContactIDs, Script: req.Script}
	if req.DelaySeconds != nil {
		d, ok := boundedDuration(*req.DelaySeconds, time.Second, maxBatchPacing)
		if !ok {
			badRequest(c, "delay_seconds must be between 0 and 3600")
			return
		}
		br.Pacing = &d
	}

	sum := h.Batches.DispatchBatch(c.Request.Context(), br)
	if sum.Rejected {
		c.JSON(http.StatusConflict, sum)
		return
	}
	if sum.Unavailable {
		c.JSON(http.StatusServiceUnavailable, sum)
		return
	}
	h.record(c, audit.EventBatchDispatched, "", sum.Message, gin.H{"total": sum.Total, "successful": sum.Successful, "failed": sum.Failed})
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) GetCall(c *gin.Context) {
	detail, err := h.Calls.CallStatus(c.Request.Context(), c.Param("call_id"))
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
		return
	case err != nil:
		internalError(c, "call lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h Handlers) CancelCall(c *gin.Context) {
	callID := c.Param("call_id")
	res := h.Calls.CancelCall(c.Request.Context(), callID)
	switch {
	case res.ErrorClass == dispatcher.ClassNotFound:
		c.JSON(http.StatusNotFound, res)
		return
	case res.ErrorClass == dispatcher.ClassStore:
		c.JSON(http.StatusInternalServerError, res)
		return
	case !res.Success:
		c.JSON(http.StatusConflict, res)
		return
	}
	h.record(c, audit.EventCallCanceled, callID, res.Message, nil)
	c.JSON(http.StatusOK, res)
}

// CallAudit lists operator actions recorded against one call, newest first.
func (h Handlers) CallAudit(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	trail, err := h.Audit.CallTrail(c.Request.Context(), c.Param("call_id"), limit)
	if errors.Is(err, audit.ErrNotConfigured) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit is not configured"})
		return
	}
	if err != nil {
		internalError(c, "audit lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trail), "events": trail})
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	active := h.Calls.ActiveCalls()
	c.JSON(http.StatusOK, gin.H{"count": len(active), "calls": active})
}

func (h Handlers) CallHistory(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	list, err := h.Calls.History(c.Request.Context(), limit)
	if err != nil {
		internalError(c, "call history failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "calls": list})
}
