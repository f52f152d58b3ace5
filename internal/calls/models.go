package calls

import "time"

// Contact is a person the dialer can call.
//
// PhoneNumber is stored in international format (+<country><number>).
// Only Status changes after creation.
type Contact struct {
	ID          string        `json:"id" db:"id"`
	PhoneNumber string        `json:"phone_number" db:"phone_number"`
	Name        string        `json:"name" db:"name"`
	Status      ContactStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

type ContactStatus string

const (
	ContactActive   ContactStatus = "active"
	ContactInactive ContactStatus = "inactive"
)

// Call represents one placed-call attempt.
//
// Invariants:
// - EndTime is set iff Status is terminal, and is never moved once set.
// - ProviderRef is present for every non-terminal status beyond pending.
// - RetryCount only grows, and only when a retry is executed.
//
// A call placed as a retry of another call carries ParentCallID and the
// lineage's retry count at the time it was placed.

type Call struct {
	ID           string `json:"call_id" db:"id"`
	ContactID    string `json:"contact_id" db:"contact_id"`
	ProviderRef  string `json:"provider_ref,omitempty" db:"provider_ref"`
	ParentCallID string `json:"parent_call_id,omitempty" db:"parent_call_id"`

	Status     Status `json:"status" db:"status"`
	RetryCount int    `json:"retry_count" db:"retry_count"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is reported by the provider once the call ends.
	DurationSeconds int    `json:"duration" db:"duration"`
	RecordingRef    string `json:"recording_ref,omitempty" db:"recording_ref"`
	TranscriptID    string `json:"transcript_id,omitempty" db:"transcript_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the call has reached a final status.
func (c Call) IsTerminal() bool { return c.Status.IsTerminal() }

// RetryAttempt is an append-only audit entry for retry scheduling and execution.
// The call's RetryCount is the source of truth; this log only records history.
type RetryAttempt struct {
	ID            string        `json:"id" db:"id"`
	CallID        string        `json:"call_id" db:"call_id"`
	AttemptNumber int           `json:"attempt_number" db:"attempt_number"`
	Status        AttemptStatus `json:"status" db:"status"`

	// ScheduledFor is the due time of a scheduled attempt.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	Reason       string     `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

type AttemptStatus string

const (
	AttemptScheduled AttemptStatus = "scheduled"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// Transcript is created at most once per call.
type Transcript struct {
	ID         string    `json:"id" db:"id"`
	CallID     string    `json:"call_id" db:"call_id"`
	Text       string    `json:"text" db:"text"`
	Confidence *float64  `json:"confidence,omitempty" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ContactFilter narrows ListContacts. Zero values mean "no filter".
type ContactFilter struct {
	Status ContactStatus
	Limit  int
}

// CallFilter narrows ListCalls. Results are newest first.
type CallFilter struct {
	Statuses  []Status
	ContactID string
	Limit     int
}

// TranscriptFilter narrows ListTranscripts. Search is a case-insensitive substring match on the text.
type TranscriptFilter struct {
	Search string
	Limit  int
}

// CallSummary aggregates call records for dashboards.
type CallSummary struct {
	TotalContacts          int            `json:"total_contacts"`
	TotalCalls             int            `json:"total_calls"`
	ByStatus               map[Status]int `json:"by_status"`
	AverageDurationSeconds float64        `json:"average_duration_seconds"`
}

// RetryStats counts retry log entries by status.
type RetryStats struct {
	Total     int `json:"total"`
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
