package telephony

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// SimulatedProvider accepts every call without dialing anything.
//
// It backs local development (TELEPHONY_PROVIDER=simulated) and tests.
// Numbers listed in Reject are refused with a ProviderError, and Err, when
// set, is returned from every PlaceCall.
type SimulatedProvider struct {
	mu       sync.Mutex
	placed   []PlaceCallRequest
	canceled []string
	calls    map[string]CallInfo

	Reject map[string]string
	Err    error
}

var _ Provider = (*SimulatedProvider)(nil)

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{calls: make(map[string]CallInfo), Reject: make(map[string]string)}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (p *SimulatedProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if err := ctx.Err(); err != nil {
		return PlaceCallResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, req)
	if p.Err != nil {
		return PlaceCallResult{}, p.Err
	}
	if msg, ok := p.Reject[req.To]; ok {
		return PlaceCallResult{}, &ProviderError{HTTPStatus: 400, Code: 21211, Message: msg}
	}
	ref := "SIM" + uuid.NewString()
	p.calls[ref] = CallInfo{ProviderRef: ref, Status: "queued", Direction: "outbound-api", From: req.From, To: req.To}
	return PlaceCallResult{ProviderRef: ref, Status: "queued"}, nil
}

func (p *SimulatedProvider) CancelCall(_ context.Context, providerRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.calls[providerRef]
	if !ok {
		return ErrNotFound
	}
	info.Status = "canceled"
	p.calls[providerRef] = info
	p.canceled = append(p.canceled, providerRef)
	return nil
}

func (p *SimulatedProvider) FetchCall(_ context.Context, providerRef string) (CallInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.calls[providerRef]
	if !ok {
		return CallInfo{}, ErrNotFound
	}
	return info, nil
}

func (p *SimulatedProvider) RecordingURL(_ context.Context, recordingRef string) (string, error) {
	if recordingRef == "" {
		return "", errors.New("telephony: empty recording ref")
	}
	return recordingRef, nil
}

// Placed returns a copy of every PlaceCall request seen so far.
func (p *SimulatedProvider) Placed() []PlaceCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlaceCallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// Canceled returns the provider refs passed to CancelCall.
func (p *SimulatedProvider) Canceled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.canceled))
	copy(out, p.canceled)
	return out
}
