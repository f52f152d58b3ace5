// Package lease provides the single-holder lock that guards bulk calling sessions.
//
// In a single process MemoryLock is enough. With Redis configured, RedisLock
// extends exclusivity across processes and expires on its own if the holder dies.
package lease

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrHeld is returned by TryLock when another holder owns the lease.
	ErrHeld = errors.New("lease: already held")
	// ErrNotHeld is returned by Release when the lease was lost (expired or taken over).
	ErrNotHeld = errors.New("lease: not held")
	// ErrLost is the cancel cause a holder sees once Lost fires.
	ErrLost = errors.New("lease: lost")
)

// Locker hands out at most one Lease at a time.
type Locker interface {
	// TryLock never blocks waiting for the current holder.
	TryLock(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
	// Lost is closed if exclusivity ends before Release. A nil channel never fires.
	Lost() <-chan struct{}
}

// MemoryLock is a process-local Locker.
type MemoryLock struct {
	mu   sync.Mutex
	held bool
}

var _ Locker = (*MemoryLock)(nil)

func NewMemoryLock() *MemoryLock { return &MemoryLock{} }

func (l *MemoryLock) TryLock(_ context.Context) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrHeld
	}
	l.held = true
	return &memoryLease{lock: l}, nil
}

// Held reports whether a lease is currently out.
func (l *MemoryLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type memoryLease struct {
	lock *MemoryLock
	once sync.Once
}

// Lost returns nil: a process-local lease cannot be taken over.
func (m *memoryLease) Lost() <-chan struct{} { return nil }

func (m *memoryLease) Release(_ context.Context) error {
	m.once.Do(func() {
		m.lock.mu.Lock()
		m.lock.held = false
		m.lock.mu.Unlock()
	})
	return nil
}
