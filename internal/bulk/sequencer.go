// Package bulk serializes a batch of contact ids into paced single-call dispatches.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/internal/lease"
	"dialer-platform/pkg/logger"
)

const (
	// InProgressMessage is returned when a batch is rejected because another one holds the lease.
	InProgressMessage = "Another calling session is already in progress"
	// LockUnavailableMessage is returned when the lease backend could not be reached.
	LockUnavailableMessage = "Calling session lock is unavailable"
)

const DefaultPacing = 2 * time.Second

// Dispatcher places one call.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// ContactSource resolves contact ids.
type ContactSource interface {
	GetContact(ctx context.Context, id string) (calls.Contact, error)
}

// Request is one batch. Pacing nil means the sequencer default; zero disables pacing.
type Request struct {
	ContactIDs []string
	Script     string
	Pacing     *time.Duration
}

// ItemResult is the outcome for one contact id, in request order.
type ItemResult struct {
	ContactID   string                `json:"contact_id"`
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	CallID      string                `json:"call_id,omitempty"`
	ProviderRef string                `json:"provider_ref,omitempty"`
	ErrorClass  dispatcher.ErrorClass `json:"error_class,omitempty"`
}

// Summary aggregates a batch. Rejected is set when another batch holds the lease,
// Unavailable when the lease could not be checked at all; in both cases nothing was dialed.
type Summary struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Rejected    bool         `json:"rejected,omitempty"`
	Unavailable bool         `json:"unavailable,omitempty"`
	Total       int          `json:"total"`
	Successful  int          `json:"successful"`
	Failed      int          `json:"failed"`
	Results     []ItemResult `json:"results"`
}

// Sequencer runs at most one batch at a time (system-wide when lock is a lease.RedisLock).
type Sequencer struct {
	contacts   ContactSource
	dispatcher Dispatcher
	lock       lease.Locker
	pacing     time.Duration
	log        *slog.Logger

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Sequencer)

// WithPacing sets the default inter-call delay.
func WithPacing(d time.Duration) Option {
	return func(s *Sequencer) { s.pacing = d }
}

// WithSleep replaces the pacing wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequencer) { s.sleep = fn }
}

func NewSequencer(contacts ContactSource, d Dispatcher, lock lease.Locker, log *slog.Logger, opts ...Option) *Sequencer {
	if lock == nil {
		lock = lease.NewMemoryLock()
	}
	s := &Sequencer{
		contacts:   contacts,
		dispatcher: d,
		lock:       lock,
		pacing:     DefaultPacing,
		log:        logger.OrDefault(log),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DispatchBatch dispatches req.ContactIDs strictly in order.
//
// Rules:
// - A concurrent batch is rejected immediately, never queued.
// - A missing or inactive contact, or a failed dispatch, is a per-item failure; the batch continues.
// - Pacing is applied between items, not after the last one.
// - If ctx ends mid-batch the remaining items are reported as "batch canceled".
// - If the lease is lost mid-batch the remaining items are reported as "batch lease lost".
// - The lease is released on every exit path, panics included.
func (s *Sequencer) DispatchBatch(ctx context.Context, req Request) (out Summary) {
	held, err := s.lock.TryLock(ctx)
	if errors.Is(err, lease.ErrHeld) {
		return Summary{Message: InProgressMessage, Rejected: true, Total: len(req.ContactIDs)}
	}
	if err != nil {
		s.log.Error("batch lease acquire failed", "err", err)
		return Summary{Message: LockUnavailableMessage, Unavailable: true, Total: len(req.ContactIDs)}
	}

	parent := ctx
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if lost := held.Lost(); lost != nil {
		go func() {
			select {
			case <-lost:
				s.log.Error("batch lease lost, stopping batch")
				cancel(lease.ErrLost)
			case <-ctx.Done():
			}
		}()
	}

	defer func() {
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
		defer relCancel()
		if err := held.Release(relCtx); err != nil {
			s.log.Warn("batch lease release failed", "err", err)
		}
	}()

	pacing := s.pacing
	if req.Pacing != nil {
		pacing = *req.Pacing
	}

	results := make([]ItemResult, 0, len(req.ContactIDs))
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("batch panicked", "panic", p, "processed", len(results))
			for _, id := range req.ContactIDs[len(results):] {
				results = append(results, ItemResult{ContactID: id, Message: "batch aborted"})
			}
			out = summarize(results)
			out.Success = false
			out.Message = fmt.Sprintf("Batch aborted after internal error: %v", p)
		}
	}()

	s.log.Info("batch started", "contacts", len(req.ContactIDs), "pacing", pacing.String())
	for i, id := range req.ContactIDs {
		if ctx.Err() != nil {
			results = appendCanceled(results, req.ContactIDs[i:], stopReason(ctx))
			break
		}

		results = append(results, s.dispatchOne(ctx, id, req.Script))

		if i < len(req.ContactIDs)-1 && pacing > 0 {
			if err := s.sleep(ctx, pacing); err != nil {
				results = appendCanceled(results, req.ContactIDs[i+1:], stopReason(ctx))
				break
			}
		}
	}

	out = summarize(results)
	s.log.Info("batch finished", "total", out.Total, "successful", out.Successful, "failed", out.Failed)
	return out
}

func (s *Sequencer) dispatchOne(ctx context.Context, contactID, script string) ItemResult {
	contact, err := s.contacts.GetContact(ctx, contactID)
	if errors.Is(err, calls.ErrNotFound) {
		return ItemResult{ContactID: contactID, Message: "Contact not found", ErrorClass: dispatcher.ClassNotFound}
	}
	if err != nil {
		s.log.Error("contact lookup failed", "contact_id", contactID, "err", err)
		return ItemResult{ContactID: contactID, Message: "Failed to load contact", ErrorClass: dispatcher.ClassStore}
	}
	if contact.Status == calls.ContactInactive {
		return ItemResult{ContactID: contactID, Message: "Contact is inactive", ErrorClass: dispatcher.ClassInvalid}
	}

	res := s.dispatcher.Dispatch(ctx, dispatcher.Request{Contact: contact, Script: script})
	return ItemResult{
		ContactID:   contactID,
		Success:     res.Success,
		Message:     res.Message,
		CallID:      res.CallID,
		ProviderRef: res.ProviderRef,
		ErrorClass:  res.ErrorClass,
	}
}

func appendCanceled(results []ItemResult, ids []string, reason string) []ItemResult {
	for _, id := range ids {
		results = append(results, ItemResult{ContactID: id, Message: reason})
	}
	return results
}

func stopReason(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), lease.ErrLost) {
		return "batch lease lost"
	}
	return "batch canceled"
}

func summarize(results []ItemResult) Summary {
	out := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	out.Success = true
	out.Message = fmt.Sprintf("Batch complete: %d successful, %d failed", out.Successful, out.Failed)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
