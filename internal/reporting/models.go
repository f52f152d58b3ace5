package reporting

import (
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/transcripts"
)

// CallsSummary is the call section of the dashboard.
type CallsSummary struct {
	TotalContacts int `json:"total_contacts"`
	TotalCalls    int `json:"total_calls"`

	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	ActiveCalls     int `json:"active_calls"`

	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	// ConnectionRate is completed over terminal calls; 0 when nothing finished yet.
	ConnectionRate float64 `json:"connection_rate"`

	ByStatus map[calls.Status]int `json:"by_status"`
}

// Dashboard combines every aggregate an operator sees on the summary page.
type Dashboard struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Calls       CallsSummary        `json:"calls"`
	Retries     retry.Summary       `json:"retries"`
	Transcripts transcripts.Summary `json:"transcripts"`
}
