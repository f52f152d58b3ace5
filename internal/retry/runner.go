package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/pkg/logger"
)

// Executor fires one claimed entry. *Scheduler satisfies it.
type Executor interface {
	ExecuteRetry(ctx context.Context, e Entry) ExecuteResult
}

// Runner polls the queue for due entries and executes them on a bounded set of goroutines.
//
// Rules:
// - It never claims more entries than it has idle workers, so nothing sits claimed in memory.
// - Each execution is bounded by the execution timeout.
// - A transient failure puts the entry back with a short delay.
type Runner struct {
	queue    Queue
	executor Executor
	log      *slog.Logger

	pollInterval time.Duration
	workers      int
	timeout      time.Duration
	requeueDelay time.Duration
	now          func() time.Time

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// baseCtx is canceled when Stop runs out of time.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	running bool
}

type RunnerOption func(*Runner)

// WithPollInterval sets how often the queue is checked for due entries.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollInterval = d }
}

// WithWorkers sets the number of concurrent executions.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithExecutionTimeout bounds one ExecuteRetry call.
func WithExecutionTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

func WithRequeueDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.requeueDelay = d }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(queue Queue, executor Executor, log *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:        queue,
		executor:     executor,
		log:          logger.OrDefault(log),
		pollInterval: time.Second,
		workers:      4,
		timeout:      60 * time.Second,
		requeueDelay: 30 * time.Second,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.pollInterval <= 0 {
		r.pollInterval = time.Second
	}
	r.sem = make(chan struct{}, r.workers)
	return r
}

// Start launches the poll loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.baseCtx, r.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go r.pollLoop()
	r.log.Info("retry runner started", "workers", r.workers, "poll_interval", r.pollInterval.String())
	return nil
}

// Stop stops polling and waits for running executions. If ctx ends first,
// running executions are canceled.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("retry runner stopped")
	case <-ctx.Done():
		r.log.Warn("retry runner shutdown timed out, canceling executions")
		r.cancelBase()
		<-done
	}
	r.cancelBase()
	return nil
}

func (r *Runner) pollLoop() {
	defer r.wg.Done()

	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.poll()
		}
	}
}

// poll claims up to the number of idle workers and starts them.
func (r *Runner) poll() {
	idle := cap(r.sem) - len(r.sem)
	if idle <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, r.pollInterval*5)
	entries, err := r.queue.ClaimDue(ctx, r.now().UTC(), idle)
	cancel()
	if err != nil {
		r.log.Error("retry claim failed", "err", err)
		return
	}
	for _, e := range entries {
		// only pollLoop acquires, so this never blocks past idle
		r.sem <- struct{}{}
		r.wg.Add(1)
		go r.execute(e)
	}
}

func (r *Runner) execute(e Entry) {
	defer r.wg.Done()
	defer func() { <-r.sem }()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("retry execution panicked", "call_id", e.CallID, "attempt", e.Attempt, "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	res := r.executor.ExecuteRetry(ctx, e)
	r.log.Debug("retry executed",
		"call_id", e.CallID,
		"attempt", e.Attempt,
		"success", res.Success,
		"message", res.Message,
		"new_call_id", res.NewCallID,
	)

	if res.Transient {
		// A retry scheduled for this call meanwhile wins over the requeue.
		e.DueAt = r.now().UTC().Add(r.requeueDelay)
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer pcancel()
		added, err := r.queue.PutIfAbsent(pctx, e)
		switch {
		case err != nil:
			r.log.Error("retry requeue failed", "call_id", e.CallID, "attempt", e.Attempt, "err", err)
		case !added:
			r.log.Info("retry requeue skipped, newer entry pending", "call_id", e.CallID, "attempt", e.Attempt)
		}
	}
}
