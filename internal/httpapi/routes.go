package httpapi

import (
	"dialer-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the operator API on an already authenticated group.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	read := rbac.RequireAnyRole(rbac.Readers...)
	write := rbac.RequireAnyRole(rbac.Writers...)
	admin := rbac.RequireAdmin()

	v1.GET("/me", h.Me)

	contacts := v1.Group("/contacts")
	{
		contacts.GET("", read, h.ListContacts)
		contacts.POST("", write, h.AddContact)
	}

	cs := v1.Group("/calls")
	{
		cs.POST("/batch", write, h.StartBatch)
		cs.GET("/active", read, h.ActiveCalls)
		cs.GET("/history", read, h.CallHistory)
		cs.GET("/:call_id", read, h.GetCall)
		cs.POST("/:call_id/cancel", write, h.CancelCall)
		cs.GET("/:call_id/audit", read, h.CallAudit)
	}

	retries := v1.Group("/retries")
	{
		retries.GET("/summary", read, h.RetrySummary)
		retries.PUT("/config", admin, h.UpdateRetryConfig)
		retries.POST("/failed", write, h.RetryFailed)
		retries.GET("/:call_id", read, h.RetryStatus)
		retries.POST("/:call_id/schedule", write, h.ScheduleRetry)
		retries.DELETE("/:call_id", write, h.CancelRetry)
	}

	ts := v1.Group("/transcripts")
	{
		ts.GET("", read, h.ListTranscripts)
		ts.GET("/summary", read, h.TranscriptSummary)
		ts.GET("/:call_id", read, h.GetTranscript)
	}

	v1.GET("/reports/summary", read, h.ReportSummary)
}
