package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrAlreadyExists   = errors.New("calls: already exists")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrInvalidStatus   = errors.New("calls: invalid status")
	ErrStaleTransition = errors.New("calls: stale status transition")
)

// ContactStore persists contacts.
type ContactStore interface {
	CreateContact(ctx context.Context, c Contact) (Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error)
	SetContactStatus(ctx context.Context, id string, status ContactStatus) error
}

// CallStore persists call records.
//
// UpdateCall is the only way to mutate an existing call. Implementations MUST
// serialize concurrent UpdateCall invocations for the same id (row lock,
// transaction, or mutex) so fn always sees the latest committed row.
// If fn returns an error nothing is written and that error is returned.
// fn must not call back into the store.
type CallStore interface {
	CreateCall(ctx context.Context, c Call) error
	GetCall(ctx context.Context, id string) (Call, error)
	UpdateCall(ctx context.Context, id string, fn func(*Call) error) (Call, error)
	ListCalls(ctx context.Context, f CallFilter) ([]Call, error)

	// HasSuccessor reports whether a retry call was already placed for id.
	HasSuccessor(ctx context.Context, id string) (bool, error)
}

// RetryLog is append-only. No update/delete methods are provided.
type RetryLog interface {
	AppendRetryAttempt(ctx context.Context, a RetryAttempt) error
	ListRetryAttempts(ctx context.Context, callID string) ([]RetryAttempt, error)
	RetryStats(ctx context.Context) (RetryStats, error)
}

// TranscriptStore enforces at most one transcript per call; a second insert returns ErrAlreadyExists.
type TranscriptStore interface {
	CreateTranscript(ctx context.Context, t Transcript) error
	GetTranscript(ctx context.Context, callID string) (Transcript, error)
	ListTranscripts(ctx context.Context, f TranscriptFilter) ([]Transcript, error)
}

// Store is the full persistence capability used by the dialer.
type Store interface {
	ContactStore
	CallStore
	RetryLog
	TranscriptStore

	CallSummary(ctx context.Context) (CallSummary, error)
}
