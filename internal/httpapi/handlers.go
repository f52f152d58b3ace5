package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/bulk"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/transcripts"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ContactStore interface {
	CreateContact(ctx context.Context, c calls.Contact) (calls.Contact, error)
	ListContacts(ctx context.Context, f calls.ContactFilter) ([]calls.Contact, error)
}

type CallService interface {
	CallStatus(ctx context.Context, callID string) (dispatcher.CallDetail, error)
	CancelCall(ctx context.Context, callID string) dispatcher.Result
	ActiveCalls() []dispatcher.ActiveCall
	History(ctx context.Context, limit int) ([]calls.Call, error)
}

type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, req bulk.Request) bulk.Summary
}

type RetryService interface {
	ScheduleRetry(ctx context.Context, callID string, delay *time.Duration) retry.ScheduleResult
	CancelRetry(ctx context.Context, callID string) retry.CancelResult
	RetryFailedCalls(ctx context.Context, statuses []calls.Status) retry.BatchResult
	Status(ctx context.Context, callID string) retry.StatusReport
	Summary(ctx context.Context) (retry.Summary, error)
	UpdateConfig(u retry.ConfigUpdate) (retry.Policy, error)
}

type TranscriptService interface {
	Get(ctx context.Context, callID string) (transcripts.Detail, error)
	List(ctx context.Context, limit int) ([]transcripts.Detail, error)
	Search(ctx context.Context, term string, limit int) ([]transcripts.Detail, error)
	Summary(ctx context.Context) (transcripts.Summary, error)
}

type Reporter interface {
	Dashboard(ctx context.Context) (reporting.Dashboard, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Contacts    ContactStore
	Calls       CallService
	Batches     BatchDispatcher
	Retries     RetryService
	Transcripts TranscriptService
	Reports     Reporter

	// Audit is optional; a nil service skips audit records.
	Audit *audit.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Me echoes the caller identity from the access token.
func (h Handlers) Me(c *gin.Context) {
	id := auth.Actor(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
}

/* ===================== helpers ===================== */

func actorOf(c *gin.Context) audit.Actor {
	id := auth.Actor(c.Request.Context())
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

// record appends an audit event; failures are logged and never fail the request.
func (h Handlers) record(c *gin.Context, typ audit.EventType, callID, message string, details any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.Record(c.Request.Context(), typ, actorOf(c), callID, message, details); err != nil {
		logger.FromGin(c).Warn("audit record failed", "type", typ, "call_id", callID, "err", err)
	}
}

const (
	maxBatchPacing = time.Hour
	maxRetryDelay  = 30 * 24 * time.Hour
)

// boundedDuration converts v units into a duration, rejecting negatives and
// anything above limit before the conversion can overflow.
func boundedDuration(v float64, unit, limit time.Duration) (time.Duration, bool) {
	if !(v >= 0) || v > float64(limit/unit) {
		return 0, false
	}
	return time.Duration(v * float64(unit)), true
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func internalError(c *gin.Context, msg string, err error) {
	logger.FromGin(c).Error(msg, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// limitParam reads ?limit=; 0 means "service default".
func limitParam(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid json")
		return false
	}
	return true
}
