package audit

import "time"

// Event is one operator action against the dialer. Events are never updated or deleted.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP as seen by the API.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventContactCreated     EventType = "contact_created"
	EventBatchDispatched    EventType = "batch_dispatched"
	EventCallCanceled       EventType = "call_canceled"
	EventRetryScheduled     EventType = "retry_scheduled"
	EventRetryCanceled      EventType = "retry_canceled"
	EventRetryFailedCalls   EventType = "retry_failed_calls"
	EventRetryConfigUpdated EventType = "retry_config_updated"
)

// Actor identifies who performed an action. The zero Actor is the system itself.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
