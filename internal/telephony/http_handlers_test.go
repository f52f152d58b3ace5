package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dialer-platform/internal/calls"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter(h TwilioWebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/instructions/:call_id", h.HandleInstructions)
	r.POST("/status/:call_id", h.HandleStatus)
	r.POST("/recording/:call_id", h.HandleRecording)
	return r
}

func postForm(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleInstructions_FallsBackOnPanic(t *testing.T) {
	r := newWebhookRouter(TwilioWebhookHandler{
		Instructions: func(context.Context, string) string { panic("boom") },
	})
	w := postForm(r, "/instructions/c1", "")
	if w.Code != http.StatusOK || w.Body.String() != FallbackTwiML {
		t.Fatalf("expected fallback twiml, got %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestHandleStatus_AlwaysOK(t *testing.T) {
	var got calls.StatusUpdate
	var gotID string
	r := newWebhookRouter(TwilioWebhookHandler{
		ApplyStatus: func(_ context.Context, id string, u calls.StatusUpdate) error {
			gotID, got = id, u
			return errors.New("db down")
		},
	})
	w := postForm(r, "/status/c9", "CallSid=CA1&CallStatus=busy")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotID != "c9" || got.Status != calls.StatusBusy || got.ProviderRef != "CA1" {
		t.Fatalf("unexpected forwarded update: %s %+v", gotID, got)
	}

	w = postForm(r, "/status/c9", "CallSid=CA1&CallStatus=mystery")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown status, got %d", w.Code)
	}
}

func TestHandleRecording_ForwardsRef(t *testing.T) {
	var ref string
	r := newWebhookRouter(TwilioWebhookHandler{
		ApplyRecording: func(_ context.Context, _ string, rr string) error {
			ref = rr
			return nil
		},
	})
	w := postForm(r, "/recording/c1", "RecordingSid=RE5&RecordingUrl=https%3A%2F%2Fx%2FRE5&RecordingStatus=completed")
	if w.Code != http.StatusOK || ref != "RE5" {
		t.Fatalf("expected recording forwarded, got %d %q", w.Code, ref)
	}
}
