package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
)

// DefaultScript is spoken when neither the request nor configuration supplies one.
const DefaultScript = "Hello, this is a test call from the Robo Calling AI Agent. Thank you for your time."

// Config holds dispatch settings. FromNumber and PublicBaseURL are required for dispatch.
type Config struct {
	FromNumber    string
	PublicBaseURL string
	DefaultScript string
	CallTimeout   time.Duration
	Record        bool
}

// ErrorClass tells callers how to treat a failed Result.
type ErrorClass string

const (
	// ClassConfig failures are never retried.
	ClassConfig   ErrorClass = "config_error"
	ClassProvider ErrorClass = "provider_error"
	ClassStore    ErrorClass = "store_error"
	ClassNotFound ErrorClass = "not_found"
	ClassInvalid  ErrorClass = "invalid_request"
)

// Result is the structured outcome of one dispatch (or cancel).
type Result struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	CallID      string     `json:"call_id,omitempty"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
}

// Request describes one call to place. A retry sets ParentCallID and the lineage's retry count.
type Request struct {
	Contact      calls.Contact
	Script       string
	ParentCallID string
	RetryCount   int
}

// Store is what the dispatcher needs from persistence.
type Store interface {
	calls.CallStore
	calls.ContactStore
}

// Dispatcher places single outbound calls and tracks them while in flight.
type Dispatcher struct {
	store    Store
	provider telephony.Provider
	cfg      Config
	inflight *InFlight
	log      *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New builds a dispatcher. provider may be nil; Dispatch then fails fast with a config error.
func New(store Store, provider telephony.Provider, cfg Config, log *slog.Logger, opts ...Option) *Dispatcher {
	if strings.TrimSpace(cfg.DefaultScript) == "" {
		cfg.DefaultScript = DefaultScript
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	d := &Dispatcher{
		store:    store,
		provider: provider,
		cfg:      cfg,
		inflight: NewInFlight(),
		log:      logger.OrDefault(log),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InFlight exposes the in-flight table (status ingestion removes entries from it).
func (d *Dispatcher) InFlight() *InFlight { return d.inflight }

// Dispatch places one call.
//
// Sequence:
//  1. insert the call as pending
//  2. register it in flight, then ask the provider to dial with callback URLs built from the call id
//  3. on acceptance store the provider ref and advance to initiated
//  4. on rejection (or panic) mark it failed with end_time
//
// The record is never left pending once Dispatch returns, barring a store outage.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if d.provider == nil {
		return Result{Message: "Telephony provider not configured", ErrorClass: ClassConfig}
	}
	if strings.TrimSpace(d.cfg.FromNumber) == "" {
		return Result{Message: "Sending phone number not configured", ErrorClass: ClassConfig}
	}
	if strings.TrimSpace(d.cfg.PublicBaseURL) == "" {
		return Result{Message: "Public base URL not configured", ErrorClass: ClassConfig}
	}
	if req.Contact.ID == "" || req.Contact.PhoneNumber == "" {
		return Result{Message: "Contact is missing id or phone number", ErrorClass: ClassInvalid}
	}

	script := strings.TrimSpace(req.Script)
	if script == "" {
		script = d.cfg.DefaultScript
	}

	now := d.now().UTC()
	call := calls.Call{
		ID:           d.newID(),
		ContactID:    req.Contact.ID,
		ParentCallID: req.ParentCallID,
		Status:       calls.StatusPending,
		RetryCount:   req.RetryCount,
		StartTime:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateCall(ctx, call); err != nil {
		d.log.Error("call record insert failed", "contact_id", req.Contact.ID, "err", err)
		return Result{Message: "Failed to create call record", ErrorClass: ClassStore}
	}
	log := d.log.With("call_id", call.ID, "contact_id", req.Contact.ID)

	d.inflight.Put(ActiveCall{CallID: call.ID, Contact: req.Contact, Script: script, StartedAt: now})

	placed, err := d.placeCall(ctx, telephony.PlaceCallRequest{
		To:                   req.Contact.PhoneNumber,
		From:                 d.cfg.FromNumber,
		InstructionsURL:      d.webhookURL("instructions", call.ID),
		StatusCallbackURL:    d.webhookURL("status", call.ID),
		RecordingCallbackURL: d.recordingURL(call.ID),
		Timeout:              d.cfg.CallTimeout,
		Record:               d.cfg.Record,
	})
	if err != nil {
		log.Warn("provider rejected call", "err", err)
		d.markFailed(ctx, call.ID)
		d.inflight.Remove(call.ID)
		return Result{Message: "Failed to place call: " + err.Error(), CallID: call.ID, ErrorClass: ClassProvider}
	}

	wctx, cancel := detached(ctx)
	defer cancel()
	_, err = d.store.UpdateCall(wctx, call.ID, func(c *calls.Call) error {
		if c.Status == calls.StatusPending {
			_, err := c.Apply(calls.StatusUpdate{Status: calls.StatusInitiated, ProviderRef: placed.ProviderRef}, d.now())
			return err
		}
		// a status callback won the race; only fill in the ref
		if c.ProviderRef == "" {
			c.ProviderRef = placed.ProviderRef
			c.UpdatedAt = d.now().UTC()
		}
		return nil
	})
	if err != nil {
		log.Error("call record update after placement failed", "provider_ref", placed.ProviderRef, "err", err)
	}

	log.Info("call initiated", "provider_ref", placed.ProviderRef, "parent_call_id", req.ParentCallID, "retry_count", req.RetryCount)
	return Result{Success: true, Message: "Call initiated successfully", CallID: call.ID, ProviderRef: placed.ProviderRef}
}

func (d *Dispatcher) placeCall(ctx context.Context, req telephony.PlaceCallRequest) (res telephony.PlaceCallResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panic: %v", p)
		}
	}()
	return d.provider.PlaceCall(ctx, req)
}

func (d *Dispatcher) markFailed(ctx context.Context, callID string) {
	wctx, cancel := detached(ctx)
	defer cancel()
	_, err := d.store.UpdateCall(wctx, callID, func(c *calls.Call) error {
		_, err := c.Apply(calls.StatusUpdate{Status: calls.StatusFailed}, d.now())
		return err
	})
	if err != nil && !errors.Is(err, calls.ErrStaleTransition) {
		d.log.Error("mark call failed", "call_id", callID, "err", err)
	}
}

// Instructions returns the markup the provider plays for callID.
// Unknown ids get the default script; render failures get FallbackTwiML. Never an error.
func (d *Dispatcher) Instructions(_ context.Context, callID string) string {
	script := d.cfg.DefaultScript
	if a, ok := d.inflight.Get(callID); ok && strings.TrimSpace(a.Script) != "" {
		script = a.Script
	}
	markup, err := telephony.RenderScript(script)
	if err != nil {
		d.log.Error("instructions render failed", "call_id", callID, "err", err)
		return telephony.FallbackTwiML
	}
	return markup
}

// webhookURL builds {base}/webhooks/twilio/{kind}/{callID}.
func (d *Dispatcher) webhookURL(kind, callID string) string {
	return d.cfg.PublicBaseURL + "/webhooks/twilio/" + kind + "/" + callID
}

func (d *Dispatcher) recordingURL(callID string) string {
	if !d.cfg.Record {
		return ""
	}
	return d.webhookURL("recording", callID)
}

// detached keeps ctx values but survives its cancellation, bounded by a short timeout,
// so bookkeeping writes land even when the caller gave up.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
