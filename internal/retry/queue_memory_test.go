package retry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueue_ReplaceNotDuplicate(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()

	_ = q.Put(ctx, Entry{CallID: "c1", Attempt: 1, DueAt: now.Add(time.Hour)})
	_ = q.Put(ctx, Entry{CallID: "c1", Attempt: 1, DueAt: now.Add(time.Minute)})

	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("expected 1 pending entry, got %d", n)
	}
	e, ok, _ := q.Get(ctx, "c1")
	if !ok || !e.DueAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected replaced due time, got %+v", e)
	}
}

func TestMemoryQueue_ClaimDueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()

	_ = q.Put(ctx, Entry{CallID: "late", Attempt: 1, DueAt: now.Add(time.Hour)})
	_ = q.Put(ctx, Entry{CallID: "b", Attempt: 1, DueAt: now.Add(-time.Minute)})
	_ = q.Put(ctx, Entry{CallID: "a", Attempt: 2, DueAt: now.Add(-2 * time.Minute)})
	_ = q.Put(ctx, Entry{CallID: "c", Attempt: 1, DueAt: now})

	got, _ := q.ClaimDue(ctx, now, 2)
	if len(got) != 2 || got[0].CallID != "a" || got[1].CallID != "b" {
		t.Fatalf("expected a,b got %+v", got)
	}
	got, _ = q.ClaimDue(ctx, now, 0)
	if len(got) != 1 || got[0].CallID != "c" {
		t.Fatalf("expected c got %+v", got)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("expected only the future entry left, got %d", n)
	}
}

func TestMemoryQueue_RemoveMatchesAttempt(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	_ = q.Put(ctx, Entry{CallID: "c1", Attempt: 2, DueAt: time.Now()})

	if ok, _ := q.Remove(ctx, "c1", 1); ok {
		t.Fatalf("attempt mismatch must not remove")
	}
	if ok, _ := q.Remove(ctx, "c1", 2); !ok {
		t.Fatalf("expected removal")
	}
	if ok, _ := q.Remove(ctx, "c1", 0); ok {
		t.Fatalf("nothing left to remove")
	}
}

func TestEntry_JobID(t *testing.T) {
	e := Entry{CallID: "abc", Attempt: 2}
	if e.JobID() != "retry_call_abc_2" {
		t.Fatalf("unexpected job id %q", e.JobID())
	}
}

func TestMemoryQueue_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()

	if ok, _ := q.PutIfAbsent(ctx, Entry{CallID: "a", Attempt: 1, DueAt: now}); !ok {
		t.Fatalf("expected insert into empty queue")
	}
	if ok, _ := q.PutIfAbsent(ctx, Entry{CallID: "a", Attempt: 2, DueAt: now.Add(time.Hour)}); ok {
		t.Fatalf("pending entry must not be replaced")
	}
	e, _, _ := q.Get(ctx, "a")
	if e.Attempt != 1 || !e.DueAt.Equal(now) {
		t.Fatalf("original entry changed: %+v", e)
	}
}
