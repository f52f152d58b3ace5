package telephony

import (
	"context"
	"net/http"
	"strings"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookHandler converts Twilio webhooks to internal types and
// delegates to injected functions. No business logic here.
//
// The provider must always receive a well-formed response: instruction
// failures fall back to FallbackTwiML, and status/recording callbacks answer
// 200 even when the update was stale or failed internally (failures are logged).
type TwilioWebhookHandler struct {
	// Instructions returns the markup for a call id; it must never block for long.
	Instructions func(ctx context.Context, callID string) string

	ApplyStatus func(ctx context.Context, callID string, u calls.StatusUpdate) error

	ApplyRecording func(ctx context.Context, callID, recordingRef string) error
}

func (h TwilioWebhookHandler) HandleInstructions(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	markup := FallbackTwiML
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("instructions panicked", "call_id", callID, "panic", p)
				markup = FallbackTwiML
			}
		}()
		if h.Instructions != nil {
			if m := h.Instructions(c.Request.Context(), callID); strings.TrimSpace(m) != "" {
				markup = m
			}
		}
	}()

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, markup)
}

func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "call_id", callID, "err", err)
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	u, ok := form.ToStatusUpdate()
	if !ok {
		log.Info("twilio status ignored", "call_id", callID, "status", form.CallStatus)
		c.String(http.StatusOK, "OK")
		return
	}
	if h.ApplyStatus == nil {
		log.Error("status sink not configured", "call_id", callID)
		c.String(http.StatusOK, "OK")
		return
	}
	if err := h.ApplyStatus(c.Request.Context(), callID, u); err != nil {
		log.Error("status apply failed", "call_id", callID, "status", u.Status, "err", err)
	}
	c.String(http.StatusOK, "OK")
}

func (h TwilioWebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	form, err := ParseTwilioRecordingCallback(c.Request)
	if err != nil {
		log.Warn("twilio recording parse failed", "call_id", callID, "err", err)
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	if form.RecordingStatus != "" && form.RecordingStatus != "completed" {
		c.String(http.StatusOK, "OK")
		return
	}
	ref := form.Ref()
	if ref == "" || h.ApplyRecording == nil {
		log.Warn("recording callback ignored", "call_id", callID)
		c.String(http.StatusOK, "OK")
		return
	}
	if err := h.ApplyRecording(c.Request.Context(), callID, ref); err != nil {
		log.Error("recording apply failed", "call_id", callID, "err", err)
	}
	c.String(http.StatusOK, "OK")
}
