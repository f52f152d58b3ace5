package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_UpdateCallSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateCall(ctx, Call{ID: "c1", ContactID: "k1", Status: StatusFailed}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateCall(ctx, "c1", func(c *Call) error {
				c.RetryCount++
				return nil
			})
		}()
	}
	wg.Wait()

	c, err := s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.RetryCount != 50 {
		t.Fatalf("expected 50 increments, got %d", c.RetryCount)
	}
}

func TestMemoryStore_UpdateCallErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateCall(ctx, Call{ID: "c1", ContactID: "k1", Status: StatusPending})

	boom := errors.New("boom")
	_, err := s.UpdateCall(ctx, "c1", func(c *Call) error {
		c.Status = StatusCompleted
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	c, _ := s.GetCall(ctx, "c1")
	if c.Status != StatusPending {
		t.Fatalf("expected untouched row, got %s", c.Status)
	}
	if _, err := s.UpdateCall(ctx, "missing", func(*Call) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_TranscriptOncePerCall(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateTranscript(ctx, Transcript{ID: "t1", CallID: "c1", Text: "hello there"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateTranscript(ctx, Transcript{ID: "t2", CallID: "c1", Text: "again"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	got, err := s.ListTranscripts(ctx, TranscriptFilter{Search: "HELLO"})
	if err != nil || len(got) != 1 {
		t.Fatalf("search: %v %d", err, len(got))
	}
}

func TestMemoryStore_DuplicatePhoneRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, _ := NewContact("+15551230000", "a", time.Now())
	b, _ := NewContact("+15551230000", "b", time.Now())
	if _, err := s.CreateContact(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateContact(ctx, b); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestMemoryStore_SummaryAndSuccessor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateCall(ctx, Call{ID: "c1", ContactID: "k", Status: StatusCompleted, DurationSeconds: 30})
	_ = s.CreateCall(ctx, Call{ID: "c2", ContactID: "k", Status: StatusBusy})
	_ = s.CreateCall(ctx, Call{ID: "c3", ContactID: "k", Status: StatusCompleted, DurationSeconds: 10, ParentCallID: "c2"})

	sum, err := s.CallSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalCalls != 3 || sum.ByStatus[StatusCompleted] != 2 || sum.AverageDurationSeconds != 20 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	ok, _ := s.HasSuccessor(ctx, "c2")
	if !ok {
		t.Fatalf("expected c2 to have a successor")
	}
	ok, _ = s.HasSuccessor(ctx, "c1")
	if ok {
		t.Fatalf("c1 has no successor")
	}

	list, _ := s.ListCalls(ctx, CallFilter{Statuses: []Status{StatusCompleted}, Limit: 1})
	if len(list) != 1 || list[0].ID != "c3" {
		t.Fatalf("expected newest completed first, got %+v", list)
	}
}
