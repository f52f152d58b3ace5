// Package retry owns retry eligibility, the timer queue of scheduled retry
// executions, and the loop that fires them.
//
// Per-call retry state is derived, never stored:
// not-eligible, eligible-unscheduled, scheduled (queue entry present), exhausted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
)

// Dispatcher places the replacement call for an executed retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// Store is what the scheduler needs from persistence.
type Store interface {
	calls.CallStore
	calls.ContactStore
	calls.RetryLog
}

// MsgCallNotFound is the message of every result for an unknown call id.
const MsgCallNotFound = "Call not found"

var (
	errStaleEntry  = errors.New("retry: entry does not match next attempt")
	errNotEligible = errors.New("retry: call no longer eligible")
)

// Scheduler implements schedule/execute/cancel/status for call retries.
type Scheduler struct {
	store      Store
	queue      Queue
	dispatcher Dispatcher
	log        *slog.Logger

	now   func() time.Time
	newID func() string

	mu     sync.RWMutex
	policy Policy
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store Store, queue Queue, d Dispatcher, policy Policy, log *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:      store,
		queue:      queue,
		dispatcher: d,
		log:        logger.OrDefault(log),
		now:        time.Now,
		newID:      uuid.NewString,
		policy:     policy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns a snapshot of the current policy.
func (s *Scheduler) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Scheduler) ShouldRetry(c calls.Call) bool { return s.Policy().ShouldRetry(c) }

// UpdateConfig applies u atomically. An invalid result leaves the policy unchanged.
func (s *Scheduler) UpdateConfig(u ConfigUpdate) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := u.apply(s.policy)
	if err := next.Validate(); err != nil {
		return s.policy, err
	}
	s.policy = next
	s.log.Info("retry config updated",
		"max_attempts", next.MaxAttempts,
		"delay", next.Delay.String(),
		"backoff", next.Backoff,
		"retry_on_failed", next.RetryOnFailed,
		"retry_on_no_answer", next.RetryOnNoAnswer,
		"retry_on_busy", next.RetryOnBusy,
	)
	return next, nil
}

/* ===================== Schedule ===================== */

// ScheduleResult is the outcome of ScheduleRetry. Ineligibility is a normal
// negative result, not an error.
type ScheduleResult struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message"`
	CallID        string     `json:"call_id"`
	AttemptNumber int        `json:"attempt_number,omitempty"`
	ScheduledFor  *time.Time `json:"scheduled_for,omitempty"`
	JobID         string     `json:"job_id,omitempty"`
}

// ScheduleRetry queues the next attempt for callID. delay nil uses the policy's
// delay for that attempt. Re-scheduling the same upcoming attempt replaces the
// pending entry.
func (s *Scheduler) ScheduleRetry(ctx context.Context, callID string, delay *time.Duration) ScheduleResult {
	out := ScheduleResult{CallID: callID}

	c, err := s.store.GetCall(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		out.Message = MsgCallNotFound
		return out
	}
	if err != nil {
		s.log.Error("load call for retry", "call_id", callID, "err", err)
		out.Message = "Failed to load call"
		return out
	}

	policy := s.Policy()
	if !policy.ShouldRetry(c) {
		out.Message = policy.ineligibleReason(c)
		return out
	}
	superseded, err := s.store.HasSuccessor(ctx, callID)
	if err != nil {
		s.log.Error("successor lookup", "call_id", callID, "err", err)
		out.Message = "Failed to load call"
		return out
	}
	if superseded {
		out.Message = "Call was already retried"
		return out
	}

	attempt := c.RetryCount + 1
	d := policy.DelayFor(attempt)
	if delay != nil {
		d = *delay
	}
	if d < 0 {
		d = 0
	}
	now := s.now().UTC()
	due := now.Add(d)

	entry := Entry{CallID: callID, Attempt: attempt, DueAt: due}
	if err := s.queue.Put(ctx, entry); err != nil {
		s.log.Error("retry enqueue failed", "call_id", callID, "attempt", attempt, "err", err)
		out.Message = "Failed to schedule retry"
		return out
	}

	s.appendAttempt(ctx, calls.RetryAttempt{
		CallID:        callID,
		AttemptNumber: attempt,
		Status:        calls.AttemptScheduled,
		ScheduledFor:  &due,
		CreatedAt:     now,
	})

	s.log.Info("retry scheduled", "call_id", callID, "attempt", attempt, "due_at", due, "job_id", entry.JobID())
	out.Success = true
	out.Message = fmt.Sprintf("Retry %d scheduled for %s", attempt, due.Format(time.RFC3339))
	out.AttemptNumber = attempt
	out.ScheduledFor = &due
	out.JobID = entry.JobID()
	return out
}

/* ===================== Execute ===================== */

// ExecuteResult is the outcome of one fired retry.
type ExecuteResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CallID        string `json:"call_id"`
	AttemptNumber int    `json:"attempt_number"`
	NewCallID     string `json:"new_call_id,omitempty"`
	Rescheduled   bool   `json:"rescheduled,omitempty"`

	// Transient means nothing was changed and the entry may be re-queued.
	Transient bool `json:"-"`
}

// ExecuteRetry fires entry e.
//
// The call's retry_count is incremented before dialing, under the store's
// per-row update, and only if e.Attempt is still retry_count+1. A duplicate or
// stale entry therefore cannot execute twice. The replacement call is linked
// by ParentCallID and carries the new retry_count.
func (s *Scheduler) ExecuteRetry(ctx context.Context, e Entry) ExecuteResult {
	out := ExecuteResult{CallID: e.CallID, AttemptNumber: e.Attempt}
	log := s.log.With("call_id", e.CallID, "attempt", e.Attempt, "job_id", e.JobID())

	c, err := s.store.GetCall(ctx, e.CallID)
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("retry fired for unknown call")
		out.Message = MsgCallNotFound
		return out
	}
	if err != nil {
		log.Error("load call for retry execution", "err", err)
		out.Message = "Failed to load call"
		out.Transient = true
		return out
	}

	contact, err := s.store.GetContact(ctx, c.ContactID)
	if errors.Is(err, calls.ErrNotFound) || (err == nil && contact.Status == calls.ContactInactive) {
		reason := "Contact not found"
		if err == nil {
			reason = "Contact is inactive"
		}
		// Nothing was dialed and retry_count is unchanged, so no attempt is logged.
		log.Warn("retry skipped", "reason", reason)
		out.Message = reason
		return out
	}
	if err != nil {
		log.Error("load contact for retry execution", "err", err)
		out.Message = "Failed to load contact"
		out.Transient = true
		return out
	}

	policy := s.Policy()
	updated, err := s.store.UpdateCall(ctx, e.CallID, func(c *calls.Call) error {
		if c.RetryCount+1 != e.Attempt {
			return errStaleEntry
		}
		if !policy.ShouldRetry(*c) {
			return errNotEligible
		}
		c.RetryCount++
		c.UpdatedAt = s.now().UTC()
		return nil
	})
	switch {
	case errors.Is(err, errStaleEntry):
		log.Info("retry entry already executed or superseded")
		out.Message = "Retry already executed"
		return out
	case errors.Is(err, errNotEligible):
		log.Info("call no longer eligible for retry")
		out.Message = policy.ineligibleReason(c)
		return out
	case err != nil:
		log.Error("retry count increment failed", "err", err)
		out.Message = "Failed to update call"
		out.Transient = true
		return out
	}

	res := s.dispatcher.Dispatch(ctx, dispatcher.Request{
		Contact:      contact,
		ParentCallID: e.CallID,
		RetryCount:   updated.RetryCount,
	})
	out.AttemptNumber = updated.RetryCount
	out.NewCallID = res.CallID
	out.Message = res.Message

	status := calls.AttemptCompleted
	if !res.Success {
		status = calls.AttemptFailed
	}
	s.appendAttempt(ctx, calls.RetryAttempt{
		CallID:        e.CallID,
		AttemptNumber: updated.RetryCount,
		Status:        status,
		Reason:        reasonFor(res),
	})

	if res.Success {
		out.Success = true
		log.Info("retry dispatched", "new_call_id", res.CallID, "retry_count", updated.RetryCount)
		return out
	}

	log.Warn("retry dispatch failed", "new_call_id", res.CallID, "error_class", res.ErrorClass, "message", res.Message)
	// A provider rejection already stored the replacement as failed; no
	// callback will follow, so evaluate the next round here.
	if res.ErrorClass == dispatcher.ClassProvider && res.CallID != "" {
		next := s.ScheduleRetry(ctx, res.CallID, nil)
		out.Rescheduled = next.Success
	}
	return out
}

func reasonFor(res dispatcher.Result) string {
	if res.Success {
		return ""
	}
	return res.Message
}

func (s *Scheduler) appendAttempt(ctx context.Context, a calls.RetryAttempt) {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := s.store.AppendRetryAttempt(ctx, a); err != nil {
		s.log.Error("retry log append failed", "call_id", a.CallID, "attempt", a.AttemptNumber, "status", a.Status, "err", err)
	}
}

/* ===================== Batch ===================== */

// BatchResult summarizes RetryFailedCalls.
type BatchResult struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Matched   int              `json:"matched"`
	Scheduled int              `json:"scheduled"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []ScheduleResult `json:"results,omitempty"`
}

// RetryFailedCalls schedules every currently eligible call whose status is in
// statuses (all enabled retry statuses when empty). One failure never aborts the rest.
func (s *Scheduler) RetryFailedCalls(ctx context.Context, statuses []calls.Status) BatchResult {
	return s.retryFailed(ctx, statuses, false)
}

// Sweep is RetryFailedCalls without touching calls that already have a pending entry.
func (s *Scheduler) Sweep(ctx context.Context) BatchResult {
	return s.retryFailed(ctx, nil, true)
}

func (s *Scheduler) retryFailed(ctx context.Context, statuses []calls.Status, skipQueued bool) BatchResult {
	policy := s.Policy()
	if len(statuses) == 0 {
		statuses = policy.EnabledStatuses()
	}
	if len(statuses) == 0 {
		return BatchResult{Success: true, Message: "No retry statuses enabled"}
	}

	list, err := s.store.ListCalls(ctx, calls.CallFilter{Statuses: statuses})
	if err != nil {
		s.log.Error("list calls for retry", "err", err)
		return BatchResult{Message: "Failed to list calls"}
	}

	out := BatchResult{Matched: len(list)}
	for _, c := range list {
		if ctx.Err() != nil {
			break
		}
		if !policy.ShouldRetry(c) {
			out.Skipped++
			continue
		}
		superseded, err := s.store.HasSuccessor(ctx, c.ID)
		if err != nil || superseded {
			out.Skipped++
			continue
		}
		if skipQueued {
			if _, ok, err := s.queue.Get(ctx, c.ID); err != nil || ok {
				out.Skipped++
				continue
			}
		}

		res := s.ScheduleRetry(ctx, c.ID, nil)
		out.Results = append(out.Results, res)
		if res.Success {
			out.Scheduled++
		} else {
			out.Failed++
		}
	}

	out.Success = true
	out.Message = fmt.Sprintf("Scheduled %d retries (%d skipped, %d failed)", out.Scheduled, out.Skipped, out.Failed)
	s.log.Info("retry failed calls", "matched", out.Matched, "scheduled", out.Scheduled, "skipped", out.Skipped, "failed", out.Failed)
	return out
}

/* ===================== Cancel / Status ===================== */

type CancelResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CallID        string `json:"call_id"`
	AttemptNumber int    `json:"attempt_number,omitempty"`
}

// CancelRetry removes the pending entry for the call's next attempt.
func (s *Scheduler) CancelRetry(ctx context.Context, callID string) CancelResult {
	out := CancelResult{CallID: callID}
	c, err := s.store.GetCall(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		out.Message = MsgCallNotFound
		return out
	}
	if err != nil {
		s.log.Error("load call for retry cancel", "call_id", callID, "err", err)
		out.Message = "Failed to load call"
		return out
	}

	attempt := c.RetryCount + 1
	removed, err := s.queue.Remove(ctx, callID, attempt)
	if err != nil {
		s.log.Error("retry dequeue failed", "call_id", callID, "err", err)
		out.Message = "Failed to cancel retry"
		return out
	}
	if !removed {
		out.Message = "No scheduled retry found"
		return out
	}
	s.log.Info("retry canceled", "call_id", callID, "attempt", attempt)
	out.Success = true
	out.Message = fmt.Sprintf("Retry %d canceled", attempt)
	out.AttemptNumber = attempt
	return out
}

// StatusReport is the derived retry state of one call. Unknown ids report CallFound=false.
type StatusReport struct {
	CallFound         bool                 `json:"call_found"`
	CallID            string               `json:"call_id"`
	CallStatus        calls.Status         `json:"call_status,omitempty"`
	CurrentRetryCount int                  `json:"current_retry_count"`
	MaxRetries        int                  `json:"max_retries"`
	IsRetryEligible   bool                 `json:"is_retry_eligible"`
	RetryScheduled    bool                 `json:"retry_scheduled"`
	NextRetryTime     *time.Time           `json:"next_retry_time,omitempty"`
	RetryAttempts     []calls.RetryAttempt `json:"retry_attempts"`
	Error             string               `json:"error,omitempty"`
}

func (s *Scheduler) Status(ctx context.Context, callID string) StatusReport {
	policy := s.Policy()
	out := StatusReport{CallID: callID, MaxRetries: policy.MaxAttempts, RetryAttempts: []calls.RetryAttempt{}}

	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			s.log.Error("load call for retry status", "call_id", callID, "err", err)
			out.Error = "failed to load call"
		}
		return out
	}
	out.CallFound = true
	out.CallStatus = c.Status
	out.CurrentRetryCount = c.RetryCount

	superseded, err := s.store.HasSuccessor(ctx, callID)
	if err != nil {
		s.log.Warn("successor lookup", "call_id", callID, "err", err)
	}
	out.IsRetryEligible = policy.ShouldRetry(c) && !superseded

	if e, ok, err := s.queue.Get(ctx, callID); err == nil && ok {
		due := e.DueAt
		out.RetryScheduled = true
		out.NextRetryTime = &due
	} else if err != nil {
		s.log.Warn("retry queue lookup", "call_id", callID, "err", err)
	}

	if attempts, err := s.store.ListRetryAttempts(ctx, callID); err == nil {
		out.RetryAttempts = attempts
	} else {
		s.log.Warn("retry log lookup", "call_id", callID, "err", err)
	}
	return out
}

// Summary aggregates retry state for dashboards.
type Summary struct {
	Log       calls.RetryStats `json:"log"`
	Eligible  int              `json:"eligible_calls"`
	Scheduled int              `json:"scheduled_retries"`
	Config    ConfigView       `json:"config"`
}

func (s *Scheduler) Summary(ctx context.Context) (Summary, error) {
	policy := s.Policy()
	out := Summary{Config: policy.View()}

	stats, err := s.store.RetryStats(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("retry: stats: %w", err)
	}
	out.Log = stats

	if n, err := s.queue.Len(ctx); err == nil {
		out.Scheduled = n
	} else {
		return Summary{}, fmt.Errorf("retry: queue len: %w", err)
	}

	if st := policy.EnabledStatuses(); len(st) > 0 {
		list, err := s.store.ListCalls(ctx, calls.CallFilter{Statuses: st})
		if err != nil {
			return Summary{}, fmt.Errorf("retry: list calls: %w", err)
		}
		for _, c := range list {
			if !policy.ShouldRetry(c) {
				continue
			}
			if superseded, err := s.store.HasSuccessor(ctx, c.ID); err == nil && !superseded {
				out.Eligible++
			}
		}
	}
	return out, nil
}
