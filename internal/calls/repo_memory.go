package calls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and the simulated provider demo.
// It is not intended for production use.

type MemoryStore struct {
	mu sync.Mutex

	contacts    map[string]Contact
	phones      map[string]string
	calls       map[string]Call
	callOrder   []string
	attempts    []RetryAttempt
	transcripts map[string]Transcript
	trOrder     []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:    make(map[string]Contact),
		phones:      make(map[string]string),
		calls:       make(map[string]Call),
		transcripts: make(map[string]Transcript),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	if c.ID == "" || c.PhoneNumber == "" {
		return Contact{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[c.ID]; ok {
		return Contact{}, ErrAlreadyExists
	}
	if _, ok := s.phones[c.PhoneNumber]; ok {
		return Contact{}, ErrAlreadyExists
	}
	if c.Status == "" {
		c.Status = ContactActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contacts[c.ID] = c
	s.phones[c.PhoneNumber] = c.ID
	return c, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SetContactStatus(ctx context.Context, id string, status ContactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	s.contacts[id] = c
	return nil
}

func (s *MemoryStore) CreateCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.ContactID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return ErrAlreadyExists
	}
	s.calls[c.ID] = cloneCall(c)
	s.callOrder = append(s.callOrder, c.ID)
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, id string, fn func(*Call) error) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	next := cloneCall(cur)
	if err := fn(&next); err != nil {
		return Call{}, err
	}
	next.ID = cur.ID
	s.calls[id] = cloneCall(next)
	return next, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, f CallFilter) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for i := len(s.callOrder) - 1; i >= 0; i-- {
		c := s.calls[s.callOrder[i]]
		if f.ContactID != "" && c.ContactID != f.ContactID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
			continue
		}
		out = append(out, cloneCall(c))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) HasSuccessor(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.ParentCallID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) AppendRetryAttempt(ctx context.Context, a RetryAttempt) error {
	if a.ID == "" || a.CallID == "" || a.AttemptNumber <= 0 {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *MemoryStore) ListRetryAttempts(ctx context.Context, callID string) ([]RetryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RetryAttempt
	for _, a := range s.attempts {
		if a.CallID == callID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) RetryStats(ctx context.Context) (RetryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st RetryStats
	for _, a := range s.attempts {
		st.Total++
		switch a.Status {
		case AttemptScheduled:
			st.Scheduled++
		case AttemptCompleted:
			st.Completed++
		case AttemptFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *MemoryStore) CreateTranscript(ctx context.Context, t Transcript) error {
	if t.ID == "" || t.CallID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[t.CallID]; ok {
		return ErrAlreadyExists
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transcripts[t.CallID] = t
	s.trOrder = append(s.trOrder, t.CallID)
	return nil
}

func (s *MemoryStore) GetTranscript(ctx context.Context, callID string) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[callID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListTranscripts(ctx context.Context, f TranscriptFilter) ([]Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term := strings.ToLower(strings.TrimSpace(f.Search))
	var out []Transcript
	for i := len(s.trOrder) - 1; i >= 0; i-- {
		t := s.transcripts[s.trOrder[i]]
		if term != "" && !strings.Contains(strings.ToLower(t.Text), term) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CallSummary(ctx context.Context) (CallSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := CallSummary{
		TotalContacts: len(s.contacts),
		TotalCalls:    len(s.calls),
		ByStatus:      make(map[Status]int),
	}
	var total, n int
	for _, c := range s.calls {
		sum.ByStatus[c.Status]++
		if c.DurationSeconds > 0 {
			total += c.DurationSeconds
			n++
		}
	}
	if n > 0 {
		sum.AverageDurationSeconds = float64(total) / float64(n)
	}
	return sum, nil
}

func cloneCall(c Call) Call {
	if c.EndTime != nil {
		t := *c.EndTime
		c.EndTime = &t
	}
	return c
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
