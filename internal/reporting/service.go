package reporting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/transcripts"

	"golang.org/x/sync/errgroup"
)

var ErrNotConfigured = errors.New("reporting: source not configured")

type CallSource interface {
	CallSummary(ctx context.Context) (calls.CallSummary, error)
}

type RetrySource interface {
	Summary(ctx context.Context) (retry.Summary, error)
}

type TranscriptSource interface {
	Summary(ctx context.Context) (transcripts.Summary, error)
}

// ActiveCounter reports how many calls are currently in flight.
type ActiveCounter interface {
	Len() int
}

type Service struct {
	calls       CallSource
	retries     RetrySource
	transcripts TranscriptSource
	active      ActiveCounter
	now         func() time.Time
}

func NewService(cs CallSource, rs RetrySource, ts TranscriptSource, active ActiveCounter) *Service {
	return &Service{calls: cs, retries: rs, transcripts: ts, active: active, now: time.Now}
}

func (s *Service) CallsSummary(ctx context.Context) (CallsSummary, error) {
	if s.calls == nil {
		return CallsSummary{}, ErrNotConfigured
	}
	raw, err := s.calls.CallSummary(ctx)
	if err != nil {
		return CallsSummary{}, err
	}
	out := fromStore(raw)
	if s.active != nil {
		out.ActiveCalls = s.active.Len()
	}
	return out, nil
}

// Dashboard collects the three sections concurrently; any failing source fails the whole view.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	if s.retries == nil || s.transcripts == nil {
		return Dashboard{}, ErrNotConfigured
	}
	out := Dashboard{GeneratedAt: s.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := s.CallsSummary(gctx)
		if err != nil {
			return fmt.Errorf("calls summary: %w", err)
		}
		out.Calls = cs
		return nil
	})
	g.Go(func() error {
		rs, err := s.retries.Summary(gctx)
		if err != nil {
			return fmt.Errorf("retry summary: %w", err)
		}
		out.Retries = rs
		return nil
	})
	g.Go(func() error {
		ts, err := s.transcripts.Summary(gctx)
		if err != nil {
			return fmt.Errorf("transcript summary: %w", err)
		}
		out.Transcripts = ts
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

func fromStore(raw calls.CallSummary) CallsSummary {
	out := CallsSummary{
		TotalContacts:          raw.TotalContacts,
		TotalCalls:             raw.TotalCalls,
		AverageDurationSeconds: raw.AverageDurationSeconds,
		ByStatus:               make(map[calls.Status]int, len(raw.ByStatus)),
	}
	terminal := 0
	for status, n := range raw.ByStatus {
		out.ByStatus[status] = n
		switch status {
		case calls.StatusCompleted:
			out.CompletedCalls += n
		case calls.StatusFailed:
			out.FailedCalls += n
		case calls.StatusNoAnswer:
			out.NoAnswerCalls += n
		case calls.StatusBusy:
			out.BusyCalls += n
		case calls.StatusCanceled:
			out.CanceledCalls += n
		}
		if status.IsTerminal() {
			terminal += n
		} else {
			out.InProgressCalls += n
		}
	}
	if terminal > 0 {
		out.ConnectionRate = math.Round(float64(out.CompletedCalls)/float64(terminal)*100) / 100
	}
	return out
}
