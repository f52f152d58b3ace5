package retry

import (
	"context"
	"fmt"
	"time"
)

// Entry is one pending retry execution.
// There is at most one pending entry per call id.
type Entry struct {
	CallID  string    `json:"call_id"`
	Attempt int       `json:"attempt"`
	DueAt   time.Time `json:"due_at"`
}

// JobID identifies the execution of (call, attempt).
func (e Entry) JobID() string { return fmt.Sprintf("retry_call_%s_%d", e.CallID, e.Attempt) }

// Queue is the timer queue of scheduled retry executions.
//
// Rules:
// - Put replaces any pending entry for the same call id; it never duplicates.
// - PutIfAbsent inserts only when the call id has no pending entry and reports whether it did.
// - ClaimDue removes and returns entries whose DueAt <= now, earliest first.
//   A claimed entry is owned by exactly one caller, even across processes
//   for the durable implementations.
// - Remove with attempt <= 0 removes the entry regardless of its attempt number.
type Queue interface {
	Put(ctx context.Context, e Entry) error
	PutIfAbsent(ctx context.Context, e Entry) (bool, error)
	Get(ctx context.Context, callID string) (Entry, bool, error)
	Remove(ctx context.Context, callID string, attempt int) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	Len(ctx context.Context) (int, error)
}
