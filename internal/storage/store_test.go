package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"
	"dialer-platform/pkg/utils"

	"github.com/google/go-cmp/cmp"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := utils.OpenDB(context.Background(), SQLite.DriverName, ":memory:", utils.SQLitePool())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db, SQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// stores returns the sqlite store plus a postgres store when TEST_POSTGRES_DSN is set.
func stores(t *testing.T) map[string]*SQLStore {
	out := map[string]*SQLStore{"sqlite": newSQLiteStore(t)}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err := utils.OpenDB(context.Background(), Postgres.DriverName, dsn, utils.PoolConfig{})
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		s := New(db, Postgres)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate postgres: %v", err)
		}
		for _, tbl := range []string{"calls", "contacts", "retry_attempts", "retry_schedule", "transcripts", "audit_events"} {
			if _, err := db.Exec(`DELETE FROM ` + tbl); err != nil {
				t.Fatalf("truncate %s: %v", tbl, err)
			}
		}
		out["postgres"] = s
	}
	return out
}

func seedContact(t *testing.T, s *SQLStore, phone string) calls.Contact {
	t.Helper()
	c, err := calls.NewContact(phone, "Test "+phone, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if _, err := s.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

func TestRebind(t *testing.T) {
	got := Postgres.rebind(`SELECT a FROM t WHERE x = ? AND y IN (?, ?)`)
	if want := `SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)`; got != want {
		t.Fatalf("rebind: got %q want %q", got, want)
	}
	if got := SQLite.rebind(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite must not rebind, got %q", got)
	}
}

func TestContacts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seedContact(t, s, "+15550000001")

			got, err := s.GetContact(ctx, c.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(c, got); diff != "" {
				t.Fatalf("contact mismatch (-want +got):\n%s", diff)
			}

			dup, _ := calls.NewContact("+15550000001", "dup", time.Now())
			if _, err := s.CreateContact(ctx, dup); !errors.Is(err, calls.ErrAlreadyExists) {
				t.Fatalf("expected already exists, got %v", err)
			}

			if err := s.SetContactStatus(ctx, c.ID, calls.ContactInactive); err != nil {
				t.Fatalf("set status: %v", err)
			}
			active, _ := s.ListContacts(ctx, calls.ContactFilter{Status: calls.ContactActive})
			if len(active) != 0 {
				t.Fatalf("expected no active contacts, got %d", len(active))
			}
			if _, err := s.GetContact(ctx, "missing"); !errors.Is(err, calls.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestCalls_RoundTripAndUpdate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			k := seedContact(t, s, "+15550000002")
			now := time.UnixMilli(1700000000123).UTC()

			c := calls.Call{ID: "call-1", ContactID: k.ID, Status: calls.StatusPending, StartTime: now, CreatedAt: now, UpdatedAt: now}
			if err := s.CreateCall(ctx, c); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.CreateCall(ctx, c); !errors.Is(err, calls.ErrAlreadyExists) {
				t.Fatalf("expected already exists, got %v", err)
			}

			updated, err := s.UpdateCall(ctx, c.ID, func(cc *calls.Call) error {
				_, err := cc.Apply(calls.StatusUpdate{Status: calls.StatusInitiated, ProviderRef: "CA1"}, now)
				return err
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.Status != calls.StatusInitiated || updated.ProviderRef != "CA1" {
				t.Fatalf("unexpected update: %+v", updated)
			}

			d := 17
			end := now.Add(time.Minute)
			if _, err := s.UpdateCall(ctx, c.ID, func(cc *calls.Call) error {
				_, err := cc.Apply(calls.StatusUpdate{Status: calls.StatusCompleted, DurationSeconds: &d, RecordingRef: "RE1"}, end)
				return err
			}); err != nil {
				t.Fatalf("complete: %v", err)
			}

			// stale callback is rejected and nothing is written
			_, err = s.UpdateCall(ctx, c.ID, func(cc *calls.Call) error {
				_, err := cc.Apply(calls.StatusUpdate{Status: calls.StatusRinging}, end.Add(time.Minute))
				return err
			})
			if !errors.Is(err, calls.ErrStaleTransition) {
				t.Fatalf("expected stale, got %v", err)
			}

			got, err := s.GetCall(ctx, c.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			want := c
			want.Status = calls.StatusCompleted
			want.ProviderRef = "CA1"
			want.DurationSeconds = 17
			want.RecordingRef = "RE1"
			want.EndTime = &end
			want.UpdatedAt = end
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("call mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalls_ConcurrentUpdatesSerialize(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			k := seedContact(t, s, "+15550000003")
			now := time.Now().UTC()
			if err := s.CreateCall(ctx, calls.Call{ID: "call-c", ContactID: k.ID, Status: calls.StatusFailed, StartTime: now, CreatedAt: now, UpdatedAt: now}); err != nil {
				t.Fatalf("create: %v", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.UpdateCall(ctx, "call-c", func(c *calls.Call) error {
						c.RetryCount++
						return nil
					}); err != nil {
						t.Errorf("update: %v", err)
					}
				}()
			}
			wg.Wait()

			got, _ := s.GetCall(ctx, "call-c")
			if got.RetryCount != 20 {
				t.Fatalf("lost updates: retry_count=%d", got.RetryCount)
			}
		})
	}
}

func TestCalls_ListAndSummary(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			k := seedContact(t, s, "+15550000004")
			base := time.UnixMilli(1700000000000).UTC()
			for i, st := range []calls.Status{calls.StatusBusy, calls.StatusCompleted, calls.StatusNoAnswer} {
				ts := base.Add(time.Duration(i) * time.Second)
				c := calls.Call{ID: "l" + string(rune('a'+i)), ContactID: k.ID, Status: st, StartTime: ts, CreatedAt: ts, UpdatedAt: ts, DurationSeconds: 10 * (i + 1)}
				if i == 2 {
					c.ParentCallID = "la"
				}
				if err := s.CreateCall(ctx, c); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			list, err := s.ListCalls(ctx, calls.CallFilter{Statuses: []calls.Status{calls.StatusBusy, calls.StatusNoAnswer}})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].ID != "lc" || list[1].ID != "la" {
				t.Fatalf("unexpected list: %+v", list)
			}

			ok, _ := s.HasSuccessor(ctx, "la")
			if !ok {
				t.Fatalf("expected successor for la")
			}

			sum, err := s.CallSummary(ctx)
			if err != nil {
				t.Fatalf("summary: %v", err)
			}
			if sum.TotalCalls != 3 || sum.TotalContacts != 1 || sum.ByStatus[calls.StatusCompleted] != 1 || sum.AverageDurationSeconds != 20 {
				t.Fatalf("unexpected summary: %+v", sum)
			}
		})
	}
}

func TestRetryLog_Ordering(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.UnixMilli(1700000000000).UTC()
			due := ts.Add(5 * time.Minute)
			entries := []calls.RetryAttempt{
				{ID: "a3", CallID: "c", AttemptNumber: 2, Status: calls.AttemptScheduled, CreatedAt: ts.Add(time.Second), ScheduledFor: &due},
				{ID: "a2", CallID: "c", AttemptNumber: 1, Status: calls.AttemptFailed, CreatedAt: ts.Add(time.Second), Reason: "busy"},
				{ID: "a1", CallID: "c", AttemptNumber: 1, Status: calls.AttemptScheduled, CreatedAt: ts},
			}
			for _, a := range entries {
				if err := s.AppendRetryAttempt(ctx, a); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			got, err := s.ListRetryAttempts(ctx, "c")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if diff := cmp.Diff([]string{"a1", "a2", "a3"}, ids); diff != "" {
				t.Fatalf("order mismatch (-want +got):\n%s", diff)
			}
			if got[2].ScheduledFor == nil || !got[2].ScheduledFor.Equal(due) {
				t.Fatalf("expected scheduled_for round trip")
			}

			st, _ := s.RetryStats(ctx)
			if st.Total != 3 || st.Scheduled != 2 || st.Failed != 1 {
				t.Fatalf("unexpected stats: %+v", st)
			}
		})
	}
}

func TestTranscripts_OnceAndSearch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conf := 0.85
			if err := s.CreateTranscript(ctx, calls.Transcript{ID: "t1", CallID: "c1", Text: "Hello, 100% interested", Confidence: &conf}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.CreateTranscript(ctx, calls.Transcript{ID: "t2", CallID: "c1", Text: "dup"}); !errors.Is(err, calls.ErrAlreadyExists) {
				t.Fatalf("expected already exists, got %v", err)
			}
			if err := s.CreateTranscript(ctx, calls.Transcript{ID: "t3", CallID: "c2", Text: "not now"}); err != nil {
				t.Fatalf("create: %v", err)
			}

			hits, err := s.ListTranscripts(ctx, calls.TranscriptFilter{Search: "100%"})
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(hits) != 1 || hits[0].CallID != "c1" {
				t.Fatalf("unexpected hits: %+v", hits)
			}
			got, err := s.GetTranscript(ctx, "c1")
			if err != nil || got.Confidence == nil || *got.Confidence != 0.85 {
				t.Fatalf("get: %+v %v", got, err)
			}
			if _, err := s.GetTranscript(ctx, "nope"); !errors.Is(err, calls.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestRetryQueue_ReplaceClaimRemove(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := s.RetryQueue()
			now := time.UnixMilli(1700000000000).UTC()

			if err := q.Put(ctx, retry.Entry{CallID: "c1", Attempt: 1, DueAt: now.Add(time.Hour)}); err != nil {
				t.Fatalf("put: %v", err)
			}
			// same call, same attempt: replaces
			if err := q.Put(ctx, retry.Entry{CallID: "c1", Attempt: 1, DueAt: now}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Fatalf("expected 1 pending entry, got %d", n)
			}
			_ = q.Put(ctx, retry.Entry{CallID: "c2", Attempt: 2, DueAt: now.Add(time.Minute)})

			due, err := q.ClaimDue(ctx, now, 10)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if diff := cmp.Diff([]retry.Entry{{CallID: "c1", Attempt: 1, DueAt: now}}, due); diff != "" {
				t.Fatalf("claim mismatch (-want +got):\n%s", diff)
			}
			again, _ := q.ClaimDue(ctx, now, 10)
			if len(again) != 0 {
				t.Fatalf("entry claimed twice")
			}

			if ok, _ := q.Remove(ctx, "c2", 1); ok {
				t.Fatalf("remove with wrong attempt must not match")
			}
			if ok, _ := q.Remove(ctx, "c2", 2); !ok {
				t.Fatalf("expected remove")
			}
			if _, ok, _ := q.Get(ctx, "c2"); ok {
				t.Fatalf("expected entry gone")
			}

			if ok, err := q.PutIfAbsent(ctx, retry.Entry{CallID: "c3", Attempt: 2, DueAt: now}); err != nil || !ok {
				t.Fatalf("expected insert, ok=%v err=%v", ok, err)
			}
			if ok, _ := q.PutIfAbsent(ctx, retry.Entry{CallID: "c3", Attempt: 1, DueAt: now.Add(time.Hour)}); ok {
				t.Fatalf("pending entry must not be replaced")
			}
			if e, _, _ := q.Get(ctx, "c3"); e.Attempt != 2 {
				t.Fatalf("expected attempt 2 kept, got %+v", e)
			}
		})
	}
}

func TestAuditRepo_Append(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.AuditRepo().Append(context.Background(), auditEvent()); err != nil {
		t.Fatalf("append: %v", err)
	}
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected 1 audit row, got %d %v", n, err)
	}
	later := auditEvent()
	later.ID, later.Type, later.CreatedAt = "ev-2", audit.EventRetryScheduled, later.CreatedAt.Add(time.Minute)
	if err := s.AuditRepo().Append(context.Background(), later); err != nil {
		t.Fatalf("append later: %v", err)
	}

	got, err := s.AuditRepo().ListByCall(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []audit.Event{later, auditEvent()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}
}
