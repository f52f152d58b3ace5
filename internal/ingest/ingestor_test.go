package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/internal/retry"
)

type stubRetries struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubRetries) ScheduleRetry(_ context.Context, callID string, _ *time.Duration) retry.ScheduleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, callID)
	return retry.ScheduleResult{Success: true, CallID: callID, AttemptNumber: 1}
}

type stubSink struct {
	mu   sync.Mutex
	refs map[string]string
}

func (s *stubSink) Submit(_ context.Context, callID, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == nil {
		s.refs = map[string]string{}
	}
	s.refs[callID] = ref
}

type harness struct {
	store    *calls.MemoryStore
	inflight *dispatcher.InFlight
	retries  *stubRetries
	sink     *stubSink
	ing      *Ingestor
}

func newHarness(t *testing.T, transcribe bool) *harness {
	t.Helper()
	h := &harness{
		store:    calls.NewMemoryStore(),
		inflight: dispatcher.NewInFlight(),
		retries:  &stubRetries{},
		sink:     &stubSink{},
	}
	h.ing = New(h.store, h.inflight, h.retries, h.sink, Config{Transcribe: transcribe}, nil)
	return h
}

func (h *harness) seed(t *testing.T, id string) {
	t.Helper()
	now := time.Now()
	if err := h.store.CreateCall(context.Background(), calls.Call{ID: id, ContactID: "k1", ProviderRef: "CA" + id, Status: calls.StatusInitiated, StartTime: now}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.inflight.Put(dispatcher.ActiveCall{CallID: id, StartedAt: now})
}

func intPtr(v int) *int { return &v }

func TestApplyStatus_Progression(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.seed(t, "c1")

	for _, st := range []calls.Status{calls.StatusRinging, calls.StatusAnswered} {
		if res := h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: st}); res.Kind != KindApplied {
			t.Fatalf("%s: %+v", st, res)
		}
	}
	if _, ok := h.inflight.Get("c1"); !ok {
		t.Fatalf("non-terminal call must stay in flight")
	}

	res := h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusCompleted, DurationSeconds: intPtr(42), RecordingRef: "RE1"})
	if res.Kind != KindApplied || !res.Transcribing {
		t.Fatalf("unexpected result: %+v", res)
	}
	c, _ := h.store.GetCall(ctx, "c1")
	if c.Status != calls.StatusCompleted || c.EndTime == nil || c.DurationSeconds != 42 {
		t.Fatalf("unexpected call: %+v", c)
	}
	if _, ok := h.inflight.Get("c1"); ok {
		t.Fatalf("terminal call must leave the in-flight table")
	}
	if h.sink.refs["c1"] != "RE1" {
		t.Fatalf("recording not forwarded: %v", h.sink.refs)
	}
	if len(h.retries.calls) != 0 {
		t.Fatalf("completed call must not trigger retry")
	}
}

func TestApplyStatus_OutOfOrderIsStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.seed(t, "c1")

	h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusCompleted})
	before, _ := h.store.GetCall(ctx, "c1")

	for _, st := range []calls.Status{calls.StatusInitiated, calls.StatusRinging, calls.StatusFailed} {
		res := h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: st})
		if res.Kind != KindStale || res.Err() != nil {
			t.Fatalf("%s: expected stale, got %+v", st, res)
		}
	}

	after, _ := h.store.GetCall(ctx, "c1")
	if after.Status != calls.StatusCompleted || !after.EndTime.Equal(*before.EndTime) {
		t.Fatalf("terminal state must be sticky: %+v", after)
	}
}

func TestApplyStatus_FailureTriggersRetryOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.seed(t, "c1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusNoAnswer})
		}()
	}
	wg.Wait()

	if len(h.retries.calls) != 1 || h.retries.calls[0] != "c1" {
		t.Fatalf("expected exactly one retry evaluation, got %v", h.retries.calls)
	}
	if h.ing.locks.size() != 0 {
		t.Fatalf("keyed locks leaked: %d", h.ing.locks.size())
	}
}

func TestApplyStatus_DuplicateTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.seed(t, "c1")

	h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusBusy})
	res := h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusBusy, DurationSeconds: intPtr(0)})
	if res.Kind != KindDuplicate || res.Err() != nil {
		t.Fatalf("expected duplicate, got %+v", res)
	}
}

func TestApplyStatus_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	res := h.ing.ApplyStatus(ctx, "missing", calls.StatusUpdate{Status: calls.StatusRinging})
	if res.Kind != KindNotFound || !errors.Is(res.Err(), calls.ErrNotFound) {
		t.Fatalf("expected not found, got %+v", res)
	}
	res = h.ing.ApplyStatus(ctx, "missing", calls.StatusUpdate{Status: "exploded"})
	if res.Kind != KindInvalid || !errors.Is(res.Err(), calls.ErrInvalidStatus) {
		t.Fatalf("expected invalid, got %+v", res)
	}
}

func TestApplyRecording(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.seed(t, "c1")

	res := h.ing.ApplyRecording(ctx, "c1", "RE9")
	if res.Kind != KindApplied || res.Transcribing {
		t.Fatalf("in-progress call should store the ref only: %+v", res)
	}

	h.ing.ApplyStatus(ctx, "c1", calls.StatusUpdate{Status: calls.StatusCompleted})
	if h.sink.refs["c1"] != "RE9" {
		t.Fatalf("stored recording should be forwarded on completion: %v", h.sink.refs)
	}

	h2 := newHarness(t, false)
	h2.seed(t, "c2")
	h2.ing.ApplyStatus(ctx, "c2", calls.StatusUpdate{Status: calls.StatusCompleted})
	if res := h2.ing.ApplyRecording(ctx, "c2", "RE2"); res.Transcribing {
		t.Fatalf("transcription disabled but forwarded")
	}

	if res := h.ing.ApplyRecording(ctx, "nope", "RE1"); res.Kind != KindNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}
