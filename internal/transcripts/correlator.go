// Package transcripts attaches recordings and transcripts to completed calls
// and answers transcript queries.
//
// Transcription is best effort: a failure leaves the call as it was, just
// without a transcript.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Store is what the correlator needs from persistence.
type Store interface {
	calls.CallStore
	calls.TranscriptStore
}

// RecordingResolver turns a recording reference into a media URL. telephony.Provider satisfies it.
type RecordingResolver interface {
	RecordingURL(ctx context.Context, recordingRef string) (string, error)
}

// ProcessResult is the outcome of one Process call.
type ProcessResult struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	CallID       string   `json:"call_id"`
	TranscriptID string   `json:"transcript_id,omitempty"`
	Transcript   string   `json:"transcript,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	RecordingURL string   `json:"recording_url,omitempty"`
}

// Correlator downloads a call's recording, transcribes it and stores the
// transcript at most once per call.
type Correlator struct {
	store       Store
	resolver    RecordingResolver
	fetcher     Fetcher
	transcriber Transcriber
	log         *slog.Logger
	timeout     time.Duration

	now   func() time.Time
	newID func() string

	group singleflight.Group
	wg    sync.WaitGroup
}

func NewCorrelator(store Store, resolver RecordingResolver, fetcher Fetcher, transcriber Transcriber, log *slog.Logger) *Correlator {
	if transcriber == nil {
		transcriber = SimulatedTranscriber{}
	}
	return &Correlator{
		store:       store,
		resolver:    resolver,
		fetcher:     fetcher,
		transcriber: transcriber,
		log:         logger.OrDefault(log),
		timeout:     2 * time.Minute,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Submit runs Process in the background, detached from ctx's cancellation.
// Wait blocks until every submitted job has finished.
func (c *Correlator) Submit(ctx context.Context, callID, recordingRef string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		res := c.Process(pctx, callID, recordingRef)
		if !res.Success {
			c.log.Warn("transcript not produced", "call_id", callID, "message", res.Message)
		}
	}()
}

func (c *Correlator) Wait() { c.wg.Wait() }

// Process is safe to call concurrently for the same call; callers share one execution.
func (c *Correlator) Process(ctx context.Context, callID, recordingRef string) ProcessResult {
	v, _, _ := c.group.Do(callID, func() (any, error) {
		return c.process(ctx, callID, recordingRef), nil
	})
	return v.(ProcessResult)
}

func (c *Correlator) process(ctx context.Context, callID, recordingRef string) (out ProcessResult) {
	out.CallID = callID
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("transcript processing panicked", "call_id", callID, "panic", p)
			out = ProcessResult{CallID: callID, Message: fmt.Sprintf("Error processing recording: %v", p)}
		}
	}()

	call, err := c.store.GetCall(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		out.Message = "Call not found"
		return out
	}
	if err != nil {
		out.Message = "Failed to load call"
		return out
	}
	if call.TranscriptID != "" {
		out.Message = "Call already transcribed"
		out.TranscriptID = call.TranscriptID
		return out
	}
	if _, err := c.store.GetTranscript(ctx, callID); err == nil {
		out.Message = "Call already transcribed"
		return out
	}

	if recordingRef == "" {
		recordingRef = call.RecordingRef
	}
	if recordingRef == "" {
		out.Message = "No recording URL available"
		return out
	}

	url := recordingRef
	if c.resolver != nil {
		url, err = c.resolver.RecordingURL(ctx, recordingRef)
		if err != nil {
			out.Message = fmt.Sprintf("Error fetching recording: %v", err)
			return out
		}
	}
	out.RecordingURL = url

	audio, mimeType, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		out.Message = fmt.Sprintf("Transcription failed: %v", err)
		return out
	}
	tr, err := c.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		out.Message = fmt.Sprintf("Transcription failed: %v", err)
		return out
	}

	t := calls.Transcript{
		ID:         c.newID(),
		CallID:     callID,
		Text:       tr.Text,
		Confidence: tr.Confidence,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.CreateTranscript(ctx, t); err != nil {
		if errors.Is(err, calls.ErrAlreadyExists) {
			out.Message = "Call already transcribed"
			return out
		}
		c.log.Error("transcript insert failed", "call_id", callID, "err", err)
		out.Message = "Failed to store transcript"
		return out
	}

	_, err = c.store.UpdateCall(ctx, callID, func(cl *calls.Call) error {
		cl.TranscriptID = t.ID
		if cl.RecordingRef == "" {
			cl.RecordingRef = recordingRef
		}
		cl.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		c.log.Warn("link transcript to call", "call_id", callID, "transcript_id", t.ID, "err", err)
	}

	c.log.Info("transcript processed", "call_id", callID, "transcript_id", t.ID, "transcriber", c.transcriber.Name())
	return ProcessResult{
		Success:      true,
		Message:      "Recording and transcript processed successfully",
		CallID:       callID,
		TranscriptID: t.ID,
		Transcript:   t.Text,
		Confidence:   t.Confidence,
		RecordingURL: url,
	}
}
