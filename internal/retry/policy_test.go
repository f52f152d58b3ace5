package retry

import (
	"testing"
	"time"

	"dialer-platform/internal/calls"
)

func TestPolicy_ShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		status calls.Status
		count  int
		want   bool
	}{
		{calls.StatusFailed, 0, true},
		{calls.StatusNoAnswer, 2, true},
		{calls.StatusBusy, 1, true},
		{calls.StatusNoAnswer, 3, false},
		{calls.StatusFailed, 7, false},
		{calls.StatusCompleted, 0, false},
		{calls.StatusCanceled, 0, false},
		{calls.StatusRinging, 0, false},
		{calls.StatusPending, 0, false},
	}
	for _, tc := range cases {
		got := p.ShouldRetry(calls.Call{Status: tc.status, RetryCount: tc.count})
		if got != tc.want {
			t.Fatalf("ShouldRetry(%s, %d) = %v, want %v", tc.status, tc.count, got, tc.want)
		}
	}

	p.RetryOnBusy = false
	if p.ShouldRetry(calls.Call{Status: calls.StatusBusy}) {
		t.Fatalf("busy retry disabled but still eligible")
	}
	if got := p.EnabledStatuses(); len(got) != 2 {
		t.Fatalf("expected 2 enabled statuses, got %v", got)
	}
}

func TestPolicy_Validate(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	p.Backoff = "fibonacci"
	p.MaxAttempts = -1
	if err := p.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBackoff(t *testing.T) {
	lin, _ := NewBackoff("linear", time.Minute, 3*time.Minute)
	if lin.Delay(2) != 2*time.Minute || lin.Delay(5) != 3*time.Minute {
		t.Fatalf("linear: %s %s", lin.Delay(2), lin.Delay(5))
	}
	exp, _ := NewBackoff("exponential", time.Minute, 10*time.Minute)
	if exp.Delay(1) != time.Minute || exp.Delay(3) != 4*time.Minute || exp.Delay(9) != 10*time.Minute {
		t.Fatalf("exponential: %s %s %s", exp.Delay(1), exp.Delay(3), exp.Delay(9))
	}
	c, _ := NewBackoff("", 5*time.Minute, 0)
	if c.Delay(3) != 5*time.Minute {
		t.Fatalf("constant: %s", c.Delay(3))
	}
	if _, err := NewBackoff("nope", time.Second, 0); err == nil {
		t.Fatalf("expected unknown backoff error")
	}
}

func TestConfigUpdate_Apply(t *testing.T) {
	maxAttempts := 5
	secs := 60
	off := false
	u := ConfigUpdate{MaxAttempts: &maxAttempts, DelaySeconds: &secs, RetryOnBusy: &off}
	p := u.apply(DefaultPolicy())
	if p.MaxAttempts != 5 || p.Delay != time.Minute || p.RetryOnBusy || !p.RetryOnFailed {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
