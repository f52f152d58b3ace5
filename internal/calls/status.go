package calls

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusNoAnswer  Status = "no-answer"
	StatusBusy      Status = "busy"
	StatusCanceled  Status = "canceled"
)

// TerminalStatuses lists every status after which no transition is accepted.
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled}

// rank orders statuses for monotonic progression. All terminal statuses share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInitiated:
		return 1
	case StatusRinging:
		return 2
	case StatusAnswered:
		return 3
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return 4
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.rank() >= 0 }

func (s Status) IsTerminal() bool { return s.rank() == 4 }

// ParseStatus accepts canonical status names, tolerating case and "_" for "-".
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "_", "-"))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// StatusUpdate is one observation of a call's state, usually from a provider callback.
// Empty/nil fields leave the stored value untouched.
type StatusUpdate struct {
	Status          Status
	ProviderRef     string
	DurationSeconds *int
	RecordingRef    string
}

// Apply folds u into the call.
//
// Rules:
// - Terminal statuses are sticky. Re-applying the same status is accepted and may
//   fill in duration/recording, but never clears or moves EndTime.
// - Any other transition must strictly increase the status rank, otherwise it is stale.
// - EndTime is set exactly once, on entry into a terminal status.
//
// It returns entered=true when the call moved into u.Status by this update.
func (c *Call) Apply(u StatusUpdate, now time.Time) (entered bool, err error) {
	if !u.Status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}

	if u.Status != c.Status {
		if c.Status.IsTerminal() || u.Status.rank() <= c.Status.rank() {
			return false, fmt.Errorf("%w: %s -> %s", ErrStaleTransition, c.Status, u.Status)
		}
		ref := c.ProviderRef
		if ref == "" {
			ref = u.ProviderRef
		}
		if ref == "" && !u.Status.IsTerminal() && u.Status != StatusPending {
			return false, fmt.Errorf("%w: provider_ref required for %s", ErrInvalidArgument, u.Status)
		}
		entered = true
	}

	if c.ProviderRef == "" && u.ProviderRef != "" {
		c.ProviderRef = u.ProviderRef
	}
	if u.DurationSeconds != nil && *u.DurationSeconds >= 0 {
		c.DurationSeconds = *u.DurationSeconds
	}
	if u.RecordingRef != "" {
		c.RecordingRef = u.RecordingRef
	}

	c.Status = u.Status
	if c.Status.IsTerminal() && c.EndTime == nil {
		t := now.UTC()
		c.EndTime = &t
	}
	c.UpdatedAt = now.UTC()
	return entered, nil
}
