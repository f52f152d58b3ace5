package storage

import (
	"time"

	"dialer-platform/internal/audit"
)

func auditEvent() audit.Event {
	return audit.Event{
		ID:          "ev-1",
		Type:        audit.EventCallCanceled,
		ActorUserID: "u1",
		ActorRole:   "operator",
		IPAddress:   "10.0.0.1",
		CallID:      "c1",
		Message:     "call canceled",
		CreatedAt:   time.UnixMilli(1700000000000).UTC(),
	}
}
