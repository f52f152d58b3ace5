package retry

import (
	"errors"
	"fmt"
	"time"

	"dialer-platform/internal/calls"
)

// Policy decides retry eligibility and timing.
//
// Eligibility is always computed, never stored:
// retry_count < MaxAttempts AND status in {failed, no-answer, busy} AND enabled for that status.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     string
	MaxDelay    time.Duration

	RetryOnFailed   bool
	RetryOnNoAnswer bool
	RetryOnBusy     bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Delay:           5 * time.Minute,
		Backoff:         BackoffConstant,
		MaxDelay:        time.Hour,
		RetryOnFailed:   true,
		RetryOnNoAnswer: true,
		RetryOnBusy:     true,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts must be >= 0"))
	}
	if p.Delay < 0 {
		errs = append(errs, errors.New("delay must be >= 0"))
	}
	if p.MaxDelay < 0 {
		errs = append(errs, errors.New("max delay must be >= 0"))
	}
	if _, err := NewBackoff(p.Backoff, p.Delay, p.MaxDelay); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("retry: invalid policy: %w", errors.Join(errs...))
}

// Enabled reports whether retry is switched on for status s.
func (p Policy) Enabled(s calls.Status) bool {
	switch s {
	case calls.StatusFailed:
		return p.RetryOnFailed
	case calls.StatusNoAnswer:
		return p.RetryOnNoAnswer
	case calls.StatusBusy:
		return p.RetryOnBusy
	default:
		return false
	}
}

// EnabledStatuses lists the retryable statuses currently switched on.
func (p Policy) EnabledStatuses() []calls.Status {
	var out []calls.Status
	for _, s := range []calls.Status{calls.StatusFailed, calls.StatusNoAnswer, calls.StatusBusy} {
		if p.Enabled(s) {
			out = append(out, s)
		}
	}
	return out
}

// ShouldRetry is false whenever RetryCount >= MaxAttempts, regardless of status.
func (p Policy) ShouldRetry(c calls.Call) bool {
	if c.RetryCount >= p.MaxAttempts {
		return false
	}
	return p.Enabled(c.Status)
}

// ineligibleReason explains a false ShouldRetry.
func (p Policy) ineligibleReason(c calls.Call) string {
	if c.RetryCount >= p.MaxAttempts {
		return fmt.Sprintf("Maximum retry attempts (%d) reached", p.MaxAttempts)
	}
	if !c.Status.IsTerminal() {
		return fmt.Sprintf("Call is still in progress (status %s)", c.Status)
	}
	return fmt.Sprintf("Retry not enabled for status %s", c.Status)
}

// DelayFor returns the configured delay before attempt n.
func (p Policy) DelayFor(attempt int) time.Duration {
	b, err := NewBackoff(p.Backoff, p.Delay, p.MaxDelay)
	if err != nil {
		return p.Delay
	}
	return b.Delay(attempt)
}

// ConfigUpdate changes selected policy fields at runtime. Nil fields are left alone.
type ConfigUpdate struct {
	MaxAttempts     *int           `json:"max_attempts,omitempty"`
	Delay           *time.Duration `json:"-"`
	DelaySeconds    *int           `json:"retry_delay_seconds,omitempty"`
	Backoff         *string        `json:"backoff,omitempty"`
	RetryOnFailed   *bool          `json:"retry_on_failed,omitempty"`
	RetryOnNoAnswer *bool          `json:"retry_on_no_answer,omitempty"`
	RetryOnBusy     *bool          `json:"retry_on_busy,omitempty"`
}

func (u ConfigUpdate) apply(p Policy) Policy {
	if u.MaxAttempts != nil {
		p.MaxAttempts = *u.MaxAttempts
	}
	if u.DelaySeconds != nil {
		p.Delay = time.Duration(*u.DelaySeconds) * time.Second
	}
	if u.Delay != nil {
		p.Delay = *u.Delay
	}
	if u.Backoff != nil {
		p.Backoff = *u.Backoff
	}
	if u.RetryOnFailed != nil {
		p.RetryOnFailed = *u.RetryOnFailed
	}
	if u.RetryOnNoAnswer != nil {
		p.RetryOnNoAnswer = *u.RetryOnNoAnswer
	}
	if u.RetryOnBusy != nil {
		p.RetryOnBusy = *u.RetryOnBusy
	}
	return p
}

// ConfigView is the JSON shape of a Policy.
type ConfigView struct {
	MaxAttempts       int    `json:"max_retries"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	Backoff           string `json:"backoff"`
	MaxDelaySeconds   int    `json:"max_delay_seconds"`
	RetryOnFailed     bool   `json:"retry_on_failed"`
	RetryOnNoAnswer   bool   `json:"retry_on_no_answer"`
	RetryOnBusy       bool   `json:"retry_on_busy"`
}

func (p Policy) View() ConfigView {
	b := p.Backoff
	if b == "" {
		b = BackoffConstant
	}
	return ConfigView{
		MaxAttempts:       p.MaxAttempts,
		RetryDelaySeconds: int(p.Delay / time.Second),
		Backoff:           b,
		MaxDelaySeconds:   int(p.MaxDelay / time.Second),
		RetryOnFailed:     p.RetryOnFailed,
		RetryOnNoAnswer:   p.RetryOnNoAnswer,
		RetryOnBusy:       p.RetryOnBusy,
	}
}
