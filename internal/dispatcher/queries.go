package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/telephony"
)

// CallDetail is a call record enriched with its contact and, when reachable,
// the provider's view of the call.
type CallDetail struct {
	Call     calls.Call          `json:"call"`
	Contact  *calls.Contact      `json:"contact,omitempty"`
	InFlight bool                `json:"in_flight"`
	Provider *telephony.CallInfo `json:"provider,omitempty"`
}

const enrichTimeout = 5 * time.Second

// CallStatus returns the stored call plus best-effort enrichment.
// Enrichment failures are logged and omitted; only a missing call is an error.
func (d *Dispatcher) CallStatus(ctx context.Context, callID string) (CallDetail, error) {
	c, err := d.store.GetCall(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	out := CallDetail{Call: c}
	_, out.InFlight = d.inflight.Get(callID)

	if contact, err := d.store.GetContact(ctx, c.ContactID); err == nil {
		out.Contact = &contact
	} else {
		d.log.Warn("contact lookup for call failed", "call_id", callID, "err", err)
	}

	if d.provider != nil && c.ProviderRef != "" {
		pctx, cancel := context.WithTimeout(ctx, enrichTimeout)
		info, err := d.provider.FetchCall(pctx, c.ProviderRef)
		cancel()
		if err == nil {
			out.Provider = &info
		} else {
			d.log.Warn("provider call lookup failed", "call_id", callID, "provider_ref", c.ProviderRef, "err", err)
		}
	}
	return out, nil
}

// CancelCall asks the provider to hang up (best effort) and marks the call canceled.
// A call that already reached a terminal status is left alone.
func (d *Dispatcher) CancelCall(ctx context.Context, callID string) Result {
	c, err := d.store.GetCall(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		return Result{Message: "Call not found", CallID: callID, ErrorClass: ClassNotFound}
	}
	if err != nil {
		d.log.Error("load call for cancel", "call_id", callID, "err", err)
		return Result{Message: "Failed to load call", CallID: callID, ErrorClass: ClassStore}
	}
	if c.IsTerminal() {
		return Result{Message: fmt.Sprintf("Call already ended with status %s", c.Status), CallID: callID, ErrorClass: ClassInvalid}
	}

	msg := "Call canceled"
	if d.provider != nil && c.ProviderRef != "" {
		if err := d.provider.CancelCall(ctx, c.ProviderRef); err != nil {
			d.log.Warn("provider cancel failed", "call_id", callID, "provider_ref", c.ProviderRef, "err", err)
			msg = "Call canceled locally; provider cancel failed"
		}
	}

	_, err = d.store.UpdateCall(ctx, callID, func(c *calls.Call) error {
		_, err := c.Apply(calls.StatusUpdate{Status: calls.StatusCanceled}, d.now())
		return err
	})
	if errors.Is(err, calls.ErrStaleTransition) {
		// ended meanwhile
		d.inflight.Remove(callID)
		return Result{Message: "Call already ended", CallID: callID, ErrorClass: ClassInvalid}
	}
	if err != nil {
		d.log.Error("mark call canceled", "call_id", callID, "err", err)
		return Result{Message: "Failed to update call", CallID: callID, ErrorClass: ClassStore}
	}
	d.inflight.Remove(callID)
	d.log.Info("call canceled", "call_id", callID)
	return Result{Success: true, Message: msg, CallID: callID, ProviderRef: c.ProviderRef}
}

// ActiveCalls lists the in-flight table, oldest first.
func (d *Dispatcher) ActiveCalls() []ActiveCall {
	return d.inflight.List()
}

const defaultHistoryLimit = 50

// History lists stored calls newest first.
func (d *Dispatcher) History(ctx context.Context, limit int) ([]calls.Call, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return d.store.ListCalls(ctx, calls.CallFilter{Limit: limit})
}
