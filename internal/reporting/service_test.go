package reporting

import (
	"context"
	"errors"
	"testing"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/transcripts"
)

type callSrc struct {
	sum calls.CallSummary
	err error
}

func (c callSrc) CallSummary(context.Context) (calls.CallSummary, error) { return c.sum, c.err }

type retrySrc struct{ sum retry.Summary }

func (r retrySrc) Summary(context.Context) (retry.Summary, error) { return r.sum, nil }

type transcriptSrc struct{ sum transcripts.Summary }

func (t transcriptSrc) Summary(context.Context) (transcripts.Summary, error) { return t.sum, nil }

type fixedActive int

func (f fixedActive) Len() int { return int(f) }

func TestCallsSummary_Breakdown(t *testing.T) {
	src := callSrc{sum: calls.CallSummary{
		TotalContacts: 4,
		TotalCalls:    7,
		ByStatus: map[calls.Status]int{
			calls.StatusCompleted: 3,
			calls.StatusFailed:    1,
			calls.StatusNoAnswer:  1,
			calls.StatusBusy:      1,
			calls.StatusRinging:   1,
		},
		AverageDurationSeconds: 42,
	}}
	svc := NewService(src, nil, nil, fixedActive(1))

	out, err := svc.CallsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.CompletedCalls != 3 || out.FailedCalls != 1 || out.InProgressCalls != 1 || out.ActiveCalls != 1 {
		t.Fatalf("unexpected breakdown: %+v", out)
	}
	if out.ConnectionRate != 0.5 {
		t.Fatalf("expected connection rate 0.5, got %v", out.ConnectionRate)
	}
}

func TestDashboard_CombinesSections(t *testing.T) {
	svc := NewService(
		callSrc{sum: calls.CallSummary{TotalCalls: 2, ByStatus: map[calls.Status]int{calls.StatusCompleted: 2}}},
		retrySrc{sum: retry.Summary{Eligible: 3, Scheduled: 1}},
		transcriptSrc{sum: transcripts.Summary{Total: 2}},
		nil,
	)

	d, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Calls.TotalCalls != 2 || d.Retries.Eligible != 3 || d.Transcripts.Total != 2 {
		t.Fatalf("unexpected dashboard: %+v", d)
	}
	if d.GeneratedAt.IsZero() {
		t.Fatalf("expected generated_at")
	}
}

func TestDashboard_SourceErrorFails(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(callSrc{err: boom}, retrySrc{}, transcriptSrc{}, nil)
	if _, err := svc.Dashboard(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestDashboard_RequiresSources(t *testing.T) {
	svc := NewService(callSrc{}, nil, nil, nil)
	if _, err := svc.Dashboard(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
