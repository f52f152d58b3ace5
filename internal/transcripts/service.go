package transcripts

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"dialer-platform/internal/calls"
)

// QueryStore is what transcript queries read.
type QueryStore interface {
	calls.TranscriptStore
	calls.CallStore
	calls.ContactStore
}

// CallInfo is the call context shown next to a transcript. Missing pieces stay empty.
type CallInfo struct {
	ProviderRef  string       `json:"provider_ref,omitempty"`
	PhoneNumber  string       `json:"phone_number,omitempty"`
	ContactName  string       `json:"contact_name,omitempty"`
	Duration     int          `json:"call_duration"`
	Status       calls.Status `json:"call_status,omitempty"`
	StartTime    *time.Time   `json:"start_time,omitempty"`
	RecordingRef string       `json:"recording_ref,omitempty"`
}

type Detail struct {
	calls.Transcript
	CallInfo CallInfo `json:"call_info"`
}

// WordCount is one entry of the summary's top words.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type Summary struct {
	Total             int            `json:"total_transcripts"`
	AverageConfidence *float64       `json:"average_confidence"`
	DailyCounts       map[string]int `json:"daily_counts"`
	TopWords          []WordCount    `json:"top_words"`
}

const (
	defaultListLimit   = 100
	defaultSearchLimit = 50
	topWordsLimit      = 10
	summaryDays        = 7
)

type Service struct {
	store QueryStore
	now   func() time.Time
}

func NewService(store QueryStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the transcript for callID with its call info, or calls.ErrNotFound.
func (s *Service) Get(ctx context.Context, callID string) (Detail, error) {
	t, err := s.store.GetTranscript(ctx, callID)
	if err != nil {
		return Detail{}, err
	}
	return s.detail(ctx, t), nil
}

// List returns transcripts newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Detail, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.list(ctx, calls.TranscriptFilter{Limit: limit})
}

// Search is a case-insensitive substring match on transcript text.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Detail, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, calls.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return s.list(ctx, calls.TranscriptFilter{Search: term, Limit: limit})
}

func (s *Service) list(ctx context.Context, f calls.TranscriptFilter) ([]Detail, error) {
	ts, err := s.store.ListTranscripts(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Detail, 0, len(ts))
	for _, t := range ts {
		out = append(out, s.detail(ctx, t))
	}
	return out, nil
}

func (s *Service) detail(ctx context.Context, t calls.Transcript) Detail {
	d := Detail{Transcript: t}
	c, err := s.store.GetCall(ctx, t.CallID)
	if err != nil {
		return d
	}
	start := c.StartTime
	d.CallInfo = CallInfo{
		ProviderRef:  c.ProviderRef,
		Duration:     c.DurationSeconds,
		Status:       c.Status,
		StartTime:    &start,
		RecordingRef: c.RecordingRef,
	}
	if contact, err := s.store.GetContact(ctx, c.ContactID); err == nil {
		d.CallInfo.PhoneNumber = contact.PhoneNumber
		d.CallInfo.ContactName = contact.Name
	}
	return d
}

// Summary computes totals, average confidence, daily counts for the last 7 days
// and the 10 most frequent words longer than 3 characters.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	ts, err := s.store.ListTranscripts(ctx, calls.TranscriptFilter{})
	if err != nil {
		return Summary{}, err
	}
	return summarize(ts, s.now().UTC()), nil
}

func summarize(ts []calls.Transcript, now time.Time) Summary {
	out := Summary{Total: len(ts), DailyCounts: map[string]int{}, TopWords: []WordCount{}}

	cutoff := now.AddDate(0, 0, -summaryDays)
	var confSum float64
	var confN int
	words := map[string]int{}

	for _, t := range ts {
		if t.Confidence != nil {
			confSum += *t.Confidence
			confN++
		}
		if !t.CreatedAt.Before(cutoff) {
			out.DailyCounts[t.CreatedAt.UTC().Format("2006-01-02")]++
		}
		for _, w := range strings.Fields(strings.ToLower(t.Text)) {
			w = strings.Trim(w, ".,!?\";:()[]{}")
			if len([]rune(w)) > 3 {
				words[w]++
			}
		}
	}

	if confN > 0 {
		avg := math.Round(confSum/float64(confN)*100) / 100
		out.AverageConfidence = &avg
	}

	for w, n := range words {
		out.TopWords = append(out.TopWords, WordCount{Word: w, Count: n})
	}
	sort.Slice(out.TopWords, func(i, j int) bool {
		if out.TopWords[i].Count != out.TopWords[j].Count {
			return out.TopWords[i].Count > out.TopWords[j].Count
		}
		return out.TopWords[i].Word < out.TopWords[j].Word
	})
	if len(out.TopWords) > topWordsLimit {
		out.TopWords = out.TopWords[:topWordsLimit]
	}
	return out
}
