package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration { return c.Interval }

// Linear waits min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential waits min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && f > float64(e.Max) {
		return e.Max
	}
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// NewBackoff maps a strategy name to a Backoff. Empty means constant.
func NewBackoff(name string, initial, maxDelay time.Duration) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackoffConstant:
		return Constant{Interval: initial}, nil
	case BackoffLinear:
		return Linear{Initial: initial, Max: maxDelay}, nil
	case BackoffExponential:
		return Exponential{Initial: initial, Max: maxDelay}, nil
	default:
		return nil, fmt.Errorf("retry: unknown backoff %q", name)
	}
}
