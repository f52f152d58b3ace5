// Package ingest applies asynchronous provider callbacks to call state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"
	"dialer-platform/pkg/logger"
)

// InFlight is the dispatcher's in-flight table.
type InFlight interface {
	Remove(callID string) bool
}

// RetryTrigger evaluates and schedules a retry. *retry.Scheduler satisfies it.
type RetryTrigger interface {
	ScheduleRetry(ctx context.Context, callID string, delay *time.Duration) retry.ScheduleResult
}

// TranscriptSink accepts completed recordings, fire-and-forget. *transcripts.Correlator satisfies it.
type TranscriptSink interface {
	Submit(ctx context.Context, callID, recordingRef string)
}

type Kind string

const (
	KindApplied   Kind = "applied"
	KindDuplicate Kind = "duplicate"
	KindStale     Kind = "stale"
	KindNotFound  Kind = "not_found"
	KindInvalid   Kind = "invalid"
	KindError     Kind = "error"
)

// Result describes what one callback did. Stale and duplicate callbacks are
// expected under reordering and are not errors.
type Result struct {
	Kind           Kind         `json:"kind"`
	CallID         string       `json:"call_id"`
	Status         calls.Status `json:"status,omitempty"`
	Previous       calls.Status `json:"previous,omitempty"`
	RetryScheduled bool         `json:"retry_scheduled,omitempty"`
	Transcribing   bool         `json:"transcribing,omitempty"`

	err error
}

// Err is non-nil only for unknown calls, invalid updates and internal failures.
func (r Result) Err() error {
	switch r.Kind {
	case KindApplied, KindDuplicate, KindStale:
		return nil
	}
	return r.err
}

type Config struct {
	// Transcribe forwards completed calls with a recording to the sink.
	Transcribe bool
}

type Ingestor struct {
	store       calls.CallStore
	inflight    InFlight
	retries     RetryTrigger
	transcripts TranscriptSink
	cfg         Config
	log         *slog.Logger
	now         func() time.Time

	locks *keyedMutex
}

type Option func(*Ingestor)

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New builds an Ingestor. inflight, retries and transcripts may be nil.
func New(store calls.CallStore, inflight InFlight, retries RetryTrigger, transcripts TranscriptSink, cfg Config, log *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:       store,
		inflight:    inflight,
		retries:     retries,
		transcripts: transcripts,
		cfg:         cfg,
		log:         logger.OrDefault(log),
		now:         time.Now,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ApplyStatus applies one provider status callback.
//
// Rules:
// - The transition goes through the store's per-row update and the monotonic rank check,
//   so a late "ringing" never overwrites "completed" and end_time is never cleared.
// - Side effects run only for the callback that first entered a status:
//   terminal removes the call from the in-flight table, failed/no-answer/busy
//   triggers retry evaluation, completed with a recording goes to transcription.
func (i *Ingestor) ApplyStatus(ctx context.Context, callID string, u calls.StatusUpdate) Result {
	out := Result{CallID: callID, Status: u.Status}
	if !u.Status.Valid() {
		out.Kind = KindInvalid
		out.err = fmt.Errorf("%w: %q", calls.ErrInvalidStatus, u.Status)
		return out
	}

	unlock := i.locks.Lock(callID)
	defer unlock()

	log := i.log.With("call_id", callID, "status", u.Status)

	var previous calls.Status
	var entered bool
	updated, err := i.store.UpdateCall(ctx, callID, func(c *calls.Call) error {
		previous = c.Status
		var err error
		entered, err = c.Apply(u, i.now())
		return err
	})
	out.Previous = previous

	switch {
	case errors.Is(err, calls.ErrNotFound):
		log.Warn("status callback for unknown call")
		out.Kind = KindNotFound
		out.err = err
		return out
	case errors.Is(err, calls.ErrStaleTransition):
		log.Info("stale status callback ignored", "current", previous)
		out.Kind = KindStale
		return out
	case errors.Is(err, calls.ErrInvalidArgument):
		log.Warn("status callback rejected", "err", err)
		out.Kind = KindInvalid
		out.err = err
		return out
	case err != nil:
		log.Error("status update failed", "err", err)
		out.Kind = KindError
		out.err = err
		return out
	}

	if !entered {
		out.Kind = KindDuplicate
		if updated.Status == calls.StatusCompleted && u.RecordingRef != "" {
			out.Transcribing = i.forwardRecording(ctx, updated)
		}
		return out
	}
	out.Kind = KindApplied
	log.Info("call status updated", "previous", previous, "duration", updated.DurationSeconds)

	if !updated.IsTerminal() {
		return out
	}
	if i.inflight != nil {
		i.inflight.Remove(callID)
	}

	switch updated.Status {
	case calls.StatusFailed, calls.StatusNoAnswer, calls.StatusBusy:
		if i.retries != nil {
			res := i.retries.ScheduleRetry(ctx, callID, nil)
			out.RetryScheduled = res.Success
			log.Debug("retry evaluated", "scheduled", res.Success, "message", res.Message)
		}
	case calls.StatusCompleted:
		out.Transcribing = i.forwardRecording(ctx, updated)
	}
	return out
}

// ApplyRecording stores the recording reference delivered by the recording
// callback and, for completed calls, forwards it to transcription.
func (i *Ingestor) ApplyRecording(ctx context.Context, callID, recordingRef string) Result {
	out := Result{CallID: callID}
	if recordingRef == "" {
		out.Kind = KindInvalid
		out.err = fmt.Errorf("%w: empty recording ref", calls.ErrInvalidArgument)
		return out
	}

	unlock := i.locks.Lock(callID)
	defer unlock()

	updated, err := i.store.UpdateCall(ctx, callID, func(c *calls.Call) error {
		if c.RecordingRef == recordingRef {
			return nil
		}
		c.RecordingRef = recordingRef
		c.UpdatedAt = i.now().UTC()
		return nil
	})
	if errors.Is(err, calls.ErrNotFound) {
		i.log.Warn("recording callback for unknown call", "call_id", callID)
		out.Kind = KindNotFound
		out.err = err
		return out
	}
	if err != nil {
		i.log.Error("recording update failed", "call_id", callID, "err", err)
		out.Kind = KindError
		out.err = err
		return out
	}

	out.Kind = KindApplied
	out.Status = updated.Status
	if updated.Status == calls.StatusCompleted {
		out.Transcribing = i.forwardRecording(ctx, updated)
	}
	return out
}

func (i *Ingestor) forwardRecording(ctx context.Context, c calls.Call) bool {
	if !i.cfg.Transcribe || i.transcripts == nil || c.RecordingRef == "" || c.TranscriptID != "" {
		return false
	}
	i.transcripts.Submit(ctx, c.ID, c.RecordingRef)
	return true
}
