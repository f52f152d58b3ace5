package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/utils"
)

// SQLStore implements calls.Store over database/sql.
//
// NOTE: UpdateCall reads the row inside a transaction with the dialect's lock
// suffix so concurrent read-modify-write on one call id is serialized.
type SQLStore struct {
	db *sql.DB
	d  Dialect
}

var _ calls.Store = (*SQLStore)(nil)

func New(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

// DB exposes the handle for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Migrate applies the schema. Statements are idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

/* ===================== CONTACTS ===================== */

func (s *SQLStore) CreateContact(ctx context.Context, c calls.Contact) (calls.Contact, error) {
	if c.ID == "" || c.PhoneNumber == "" {
		return calls.Contact{}, calls.ErrInvalidArgument
	}
	if c.Status == "" {
		c.Status = calls.ContactActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO contacts (id, phone_number, name, status, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`
	res, err := s.db.ExecContext(ctx, s.d.rebind(q), c.ID, c.PhoneNumber, c.Name, string(c.Status), toMillis(c.CreatedAt))
	if err != nil {
		return calls.Contact{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calls.Contact{}, calls.ErrAlreadyExists
	}
	return c, nil
}

func (s *SQLStore) GetContact(ctx context.Context, id string) (calls.Contact, error) {
	const q = `SELECT id, phone_number, name, status, created_at FROM contacts WHERE id = ?`
	c, err := scanContact(s.db.QueryRowContext(ctx, s.d.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Contact{}, calls.ErrNotFound
	}
	return c, err
}

func (s *SQLStore) ListContacts(ctx context.Context, f calls.ContactFilter) ([]calls.Contact, error) {
	q := `SELECT id, phone_number, name, status, created_at FROM contacts`
	var args []any
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetContactStatus(ctx context.Context, id string, status calls.ContactStatus) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE contacts SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calls.ErrNotFound
	}
	return nil
}

/* ===================== CALLS ===================== */

const callColumns = `id, contact_id, provider_ref, parent_call_id, status, retry_count, start_time, end_time, duration, recording_ref, transcript_id, created_at, updated_at`

func (s *SQLStore) CreateCall(ctx context.Context, c calls.Call) error {
	if c.ID == "" || c.ContactID == "" {
		return calls.ErrInvalidArgument
	}
	q := `INSERT INTO calls (` + callColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.d.rebind(q),
		c.ID,
		c.ContactID,
		c.ProviderRef,
		c.ParentCallID,
		string(c.Status),
		c.RetryCount,
		toMillis(c.StartTime),
		nullMillis(c.EndTime),
		c.DurationSeconds,
		c.RecordingRef,
		c.TranscriptID,
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calls.ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) GetCall(ctx context.Context, id string) (calls.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = ?`
	c, err := scanCall(s.db.QueryRowContext(ctx, s.d.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, calls.ErrNotFound
	}
	return c, err
}

func (s *SQLStore) UpdateCall(ctx context.Context, id string, fn func(*calls.Call) error) (calls.Call, error) {
	var out calls.Call
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + callColumns + ` FROM calls WHERE id = ?` + s.d.lockSuffix
		cur, err := scanCall(tx.QueryRowContext(ctx, s.d.rebind(q), id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return calls.ErrNotFound
			}
			return err
		}

		next := cur
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = cur.ID

		const uq = `
UPDATE calls SET
	provider_ref = ?, parent_call_id = ?, status = ?, retry_count = ?,
	start_time = ?, end_time = ?, duration = ?, recording_ref = ?, transcript_id = ?, updated_at = ?
WHERE id = ?
`
		if _, err := tx.ExecContext(ctx, s.d.rebind(uq),
			next.ProviderRef,
			next.ParentCallID,
			string(next.Status),
			next.RetryCount,
			toMillis(next.StartTime),
			nullMillis(next.EndTime),
			next.DurationSeconds,
			next.RecordingRef,
			next.TranscriptID,
			toMillis(next.UpdatedAt),
			next.ID,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return calls.Call{}, err
	}
	return out, nil
}

func (s *SQLStore) ListCalls(ctx context.Context, f calls.CallFilter) ([]calls.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls`
	var where []string
	var args []any
	if f.ContactID != "" {
		where = append(where, `contact_id = ?`)
		args = append(args, f.ContactID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, `status IN (`+strings.Join(ph, ", ")+`)`)
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) HasSuccessor(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM calls WHERE parent_call_id = ?`), id).Scan(&n)
	return n > 0, err
}

/* ===================== RETRY LOG ===================== */

func (s *SQLStore) AppendRetryAttempt(ctx context.Context, a calls.RetryAttempt) error {
	if a.ID == "" || a.CallID == "" || a.AttemptNumber <= 0 {
		return calls.ErrInvalidArgument
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO retry_attempts (id, call_id, attempt_number, status, scheduled_for, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, s.d.rebind(q),
		a.ID, a.CallID, a.AttemptNumber, string(a.Status), nullMillis(a.ScheduledFor), a.Reason, toMillis(a.CreatedAt))
	return err
}

// ListRetryAttempts returns the log in insertion order. Entries written in the
// same millisecond are ordered by attempt number, scheduled before executed.
func (s *SQLStore) ListRetryAttempts(ctx context.Context, callID string) ([]calls.RetryAttempt, error) {
	const q = `
SELECT id, call_id, attempt_number, status, scheduled_for, reason, created_at
FROM retry_attempts
WHERE call_id = ?
ORDER BY created_at, attempt_number, CASE status WHEN 'scheduled' THEN 0 ELSE 1 END
`
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.RetryAttempt
	for rows.Next() {
		var (
			a         calls.RetryAttempt
			status    string
			scheduled sql.NullInt64
			created   int64
		)
		if err := rows.Scan(&a.ID, &a.CallID, &a.AttemptNumber, &status, &scheduled, &a.Reason, &created); err != nil {
			return nil, err
		}
		a.Status = calls.AttemptStatus(status)
		a.ScheduledFor = fromNullMillis(scheduled)
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) RetryStats(ctx context.Context) (calls.RetryStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM retry_attempts GROUP BY status`)
	if err != nil {
		return calls.RetryStats{}, err
	}
	defer rows.Close()

	var st calls.RetryStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return calls.RetryStats{}, err
		}
		st.Total += n
		switch calls.AttemptStatus(status) {
		case calls.AttemptScheduled:
			st.Scheduled = n
		case calls.AttemptCompleted:
			st.Completed = n
		case calls.AttemptFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

/* ===================== TRANSCRIPTS ===================== */

func (s *SQLStore) CreateTranscript(ctx context.Context, t calls.Transcript) error {
	if t.ID == "" || t.CallID == "" {
		return calls.ErrInvalidArgument
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO transcripts (id, call_id, text, confidence, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`
	var conf sql.NullFloat64
	if t.Confidence != nil {
		conf = sql.NullFloat64{Float64: *t.Confidence, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(q), t.ID, t.CallID, t.Text, conf, toMillis(t.CreatedAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calls.ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) GetTranscript(ctx context.Context, callID string) (calls.Transcript, error) {
	const q = `SELECT id, call_id, text, confidence, created_at FROM transcripts WHERE call_id = ?`
	t, err := scanTranscript(s.db.QueryRowContext(ctx, s.d.rebind(q), callID))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Transcript{}, calls.ErrNotFound
	}
	return t, err
}

func (s *SQLStore) ListTranscripts(ctx context.Context, f calls.TranscriptFilter) ([]calls.Transcript, error) {
	q := `SELECT id, call_id, text, confidence, created_at FROM transcripts`
	var args []any
	if term := strings.TrimSpace(f.Search); term != "" {
		q += ` WHERE LOWER(text) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

/* ===================== SUMMARY ===================== */

func (s *SQLStore) CallSummary(ctx context.Context) (calls.CallSummary, error) {
	sum := calls.CallSummary{ByStatus: make(map[calls.Status]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&sum.TotalContacts); err != nil {
		return calls.CallSummary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return calls.CallSummary{}, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return calls.CallSummary{}, err
		}
		sum.ByStatus[calls.Status(status)] = n
		sum.TotalCalls += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return calls.CallSummary{}, err
	}

	var avg sql.NullFloat64
	const aq = `SELECT AVG(CAST(duration AS DOUBLE PRECISION)) FROM calls WHERE duration > 0`
	if err := s.db.QueryRowContext(ctx, aq).Scan(&avg); err != nil {
		return calls.CallSummary{}, err
	}
	if avg.Valid {
		sum.AverageDurationSeconds = avg.Float64
	}
	return sum, nil
}

/* ===================== SCAN HELPERS ===================== */

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(r rowScanner) (calls.Contact, error) {
	var (
		c       calls.Contact
		status  string
		created int64
	)
	if err := r.Scan(&c.ID, &c.PhoneNumber, &c.Name, &status, &created); err != nil {
		return calls.Contact{}, err
	}
	c.Status = calls.ContactStatus(status)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

func scanCall(r rowScanner) (calls.Call, error) {
	var (
		c                       calls.Call
		status                  string
		start, created, updated int64
		end                     sql.NullInt64
	)
	if err := r.Scan(
		&c.ID,
		&c.ContactID,
		&c.ProviderRef,
		&c.ParentCallID,
		&status,
		&c.RetryCount,
		&start,
		&end,
		&c.DurationSeconds,
		&c.RecordingRef,
		&c.TranscriptID,
		&created,
		&updated,
	); err != nil {
		return calls.Call{}, err
	}
	c.Status = calls.Status(status)
	c.StartTime = fromMillis(start)
	c.EndTime = fromNullMillis(end)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func scanTranscript(r rowScanner) (calls.Transcript, error) {
	var (
		t       calls.Transcript
		conf    sql.NullFloat64
		created int64
	)
	if err := r.Scan(&t.ID, &t.CallID, &t.Text, &conf, &created); err != nil {
		return calls.Transcript{}, err
	}
	if conf.Valid {
		v := conf.Float64
		t.Confidence = &v
	}
	t.CreatedAt = fromMillis(created)
	return t, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
