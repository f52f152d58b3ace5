package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/internal/retry"
)

// RetryQueue is a durable retry.Queue on the retry_schedule table.
// A claim deletes the exact (call_id, attempt_number, due_at) row it read, so
// two pollers never execute the same entry.
type RetryQueue struct {
	db *sql.DB
	d  Dialect
}

var _ retry.Queue = (*RetryQueue)(nil)

// RetryQueue returns a queue sharing the store's connection pool.
func (s *SQLStore) RetryQueue() *RetryQueue { return &RetryQueue{db: s.db, d: s.d} }

func (q *RetryQueue) Put(ctx context.Context, e retry.Entry) error {
	const stmt = `
INSERT INTO retry_schedule (call_id, attempt_number, due_at)
VALUES (?, ?, ?)
ON CONFLICT (call_id) DO UPDATE SET attempt_number = excluded.attempt_number, due_at = excluded.due_at
`
	_, err := q.db.ExecContext(ctx, q.d.rebind(stmt), e.CallID, e.Attempt, e.DueAt.UTC().UnixMilli())
	return err
}

func (q *RetryQueue) PutIfAbsent(ctx context.Context, e retry.Entry) (bool, error) {
	const stmt = `
INSERT INTO retry_schedule (call_id, attempt_number, due_at)
VALUES (?, ?, ?)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := q.db.ExecContext(ctx, q.d.rebind(stmt), e.CallID, e.Attempt, e.DueAt.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (q *RetryQueue) Get(ctx context.Context, callID string) (retry.Entry, bool, error) {
	var (
		e   retry.Entry
		due int64
	)
	err := q.db.QueryRowContext(ctx, q.d.rebind(`SELECT call_id, attempt_number, due_at FROM retry_schedule WHERE call_id = ?`), callID).
		Scan(&e.CallID, &e.Attempt, &due)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return retry.Entry{}, false, nil
		}
		return retry.Entry{}, false, err
	}
	e.DueAt = time.UnixMilli(due).UTC()
	return e, true, nil
}

func (q *RetryQueue) Remove(ctx context.Context, callID string, attempt int) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if attempt > 0 {
		res, err = q.db.ExecContext(ctx, q.d.rebind(`DELETE FROM retry_schedule WHERE call_id = ? AND attempt_number = ?`), callID, attempt)
	} else {
		res, err = q.db.ExecContext(ctx, q.d.rebind(`DELETE FROM retry_schedule WHERE call_id = ?`), callID)
	}
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *RetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]retry.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, q.d.rebind(`
SELECT call_id, attempt_number, due_at
FROM retry_schedule
WHERE due_at <= ?
ORDER BY due_at, call_id
LIMIT ?
`), now.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	var candidates []retry.Entry
	var dues []int64
	for rows.Next() {
		var e retry.Entry
		var due int64
		if err := rows.Scan(&e.CallID, &e.Attempt, &due); err != nil {
			rows.Close()
			return nil, err
		}
		e.DueAt = time.UnixMilli(due).UTC()
		candidates = append(candidates, e)
		dues = append(dues, due)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []retry.Entry
	for i, e := range candidates {
		res, err := q.db.ExecContext(ctx,
			q.d.rebind(`DELETE FROM retry_schedule WHERE call_id = ? AND attempt_number = ? AND due_at = ?`),
			e.CallID, e.Attempt, dues[i])
		if err != nil {
			return out, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *RetryQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_schedule`).Scan(&n)
	return n, err
}
