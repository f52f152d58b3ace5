package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListByCall returns the newest events for callID first.
	ListByCall(ctx context.Context, callID string, limit int) ([]Event, error)
}

const (
	defaultTrailLimit = 50
	maxTrailLimit     = 500
)

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

// Service records operator actions. Callers treat Record as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return ErrNotConfigured
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an operator action. details, when non-nil, is stored as JSON metadata.
func (s *Service) Record(ctx context.Context, typ EventType, actor Actor, callID, message string, details any) error {
	var meta string
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	return s.Append(ctx, Event{
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     message,
		Metadata:    meta,
	})
}

// CallTrail lists what operators did to one call, newest first.
// limit <= 0 means the default; it is capped at maxTrailLimit.
func (s *Service) CallTrail(ctx context.Context, callID string, limit int) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, ErrNotConfigured
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	switch {
	case limit <= 0:
		limit = defaultTrailLimit
	case limit > maxTrailLimit:
		limit = maxTrailLimit
	}
	return s.repo.ListByCall(ctx, callID, limit)
}
