package dispatcher

import (
	"sort"
	"sync"
	"time"

	"dialer-platform/internal/calls"
)

// ActiveCall is one in-flight table entry: enough to answer the provider's
// instructions fetch without touching the store.
type ActiveCall struct {
	CallID    string        `json:"call_id"`
	Contact   calls.Contact `json:"contact"`
	Script    string        `json:"script"`
	StartedAt time.Time     `json:"started_at"`
}

// InFlight is the transient table of calls awaiting provider callbacks.
// The dispatcher inserts, status ingestion removes. It is never persisted;
// the store remains the source of truth.
type InFlight struct {
	mu sync.RWMutex
	m  map[string]ActiveCall
}

func NewInFlight() *InFlight {
	return &InFlight{m: make(map[string]ActiveCall)}
}

func (t *InFlight) Put(a ActiveCall) {
	t.mu.Lock()
	t.m[a.CallID] = a
	t.mu.Unlock()
}

func (t *InFlight) Get(callID string) (ActiveCall, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.m[callID]
	return a, ok
}

// Remove reports whether an entry was present.
func (t *InFlight) Remove(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[callID]
	delete(t.m, callID)
	return ok
}

// List returns entries oldest first.
func (t *InFlight) List() []ActiveCall {
	t.mu.RLock()
	out := make([]ActiveCall, 0, len(t.m))
	for _, a := range t.m {
		out = append(out, a)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *InFlight) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
