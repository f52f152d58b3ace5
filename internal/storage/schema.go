package storage

// Timestamps are stored as unix milliseconds (BIGINT) so one schema serves both engines.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	phone_number TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	provider_ref TEXT NOT NULL DEFAULT '',
	parent_call_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	start_time BIGINT NOT NULL,
	end_time BIGINT,
	duration INTEGER NOT NULL DEFAULT 0,
	recording_ref TEXT NOT NULL DEFAULT '',
	transcript_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_parent ON calls(parent_call_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_contact ON calls(contact_id)`,
	`CREATE TABLE IF NOT EXISTS retry_attempts (
	id TEXT PRIMARY KEY,
	call_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	scheduled_for BIGINT,
	reason TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_attempts_call ON retry_attempts(call_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS retry_schedule (
	call_id TEXT PRIMARY KEY,
	attempt_number INTEGER NOT NULL,
	due_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_schedule_due ON retry_schedule(due_at)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	call_id TEXT NOT NULL UNIQUE,
	text TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	call_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_call ON audit_events(call_id, created_at)`,
}
