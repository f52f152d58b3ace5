package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/pkg/logger"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors like "@every 15m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression or descriptor.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("retry: invalid sweep schedule %q: %w", expr, err)
	}
	return s, nil
}

// Sweepable is what the Sweeper runs on each tick.
type Sweepable interface {
	Sweep(ctx context.Context) BatchResult
}

// Sweeper periodically schedules retries for eligible calls that have none pending,
// e.g. calls that failed while retries were disabled.
type Sweeper struct {
	target   Sweepable
	schedule cronlib.Schedule
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSweeper(target Sweepable, expr string, log *slog.Logger) (*Sweeper, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		target:   target,
		schedule: sched,
		timeout:  5 * time.Minute,
		log:      logger.OrDefault(log),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go s.loop(base)
	s.log.Info("retry sweeper started", "next", s.schedule.Next(s.now()))
	return nil
}

// Stop waits for a sweep in progress to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.log.Info("retry sweeper stopped")
	return nil
}

func (s *Sweeper) loop(base context.Context) {
	defer s.wg.Done()
	for {
		now := s.now()
		wait := s.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			t.Stop()
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(base, s.timeout)
		res := s.target.Sweep(ctx)
		cancel()
		s.log.Info("retry sweep finished", "scheduled", res.Scheduled, "skipped", res.Skipped, "failed", res.Failed)
	}
}
