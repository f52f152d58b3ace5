package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider API calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
// - Every method must honor ctx; adapters apply their own request timeout on top.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall asks the provider to dial req.To. It returns once the provider
	// accepted or rejected the request; progress arrives on the status callback.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// CancelCall is best-effort; a call that already ended may not be cancelable.
	CancelCall(ctx context.Context, providerRef string) error

	FetchCall(ctx context.Context, providerRef string) (CallInfo, error)

	// RecordingURL resolves a recording reference into a downloadable media URL.
	RecordingURL(ctx context.Context, recordingRef string) (string, error)
}

// PlaceCallRequest carries everything the provider needs to dial one number.
type PlaceCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`

	// InstructionsURL is fetched synchronously by the provider for the markup to play.
	InstructionsURL string `json:"instructions_url"`
	// StatusCallbackURL receives asynchronous status updates.
	StatusCallbackURL string `json:"status_callback_url"`
	// RecordingCallbackURL receives the recording reference once available (optional).
	RecordingCallbackURL string `json:"recording_callback_url,omitempty"`

	Timeout time.Duration `json:"timeout"`
	Record  bool          `json:"record"`
}

type PlaceCallResult struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status,omitempty"`
}

// CallInfo is provider-side detail for one call, used for best-effort enrichment.
type CallInfo struct {
	ProviderRef     string     `json:"provider_ref"`
	Status          string     `json:"status"`
	Direction       string     `json:"direction,omitempty"`
	From            string     `json:"from,omitempty"`
	To              string     `json:"to,omitempty"`
	DurationSeconds int        `json:"duration"`
	Price           string     `json:"price,omitempty"`
	PriceUnit       string     `json:"price_unit,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

var (
	ErrNotConfigured = errors.New("telephony: provider not configured")
	ErrNotFound      = errors.New("telephony: not found")
)

// ProviderError is a rejection reported by the provider API.
type ProviderError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: provider error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("telephony: provider error (http %d): %s", e.HTTPStatus, e.Message)
}
