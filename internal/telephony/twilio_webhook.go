package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"dialer-platform/internal/calls"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
// Callback ordering is resolved by status rank, so SequenceNumber is not read.
type TwilioStatusForm struct {
	CallSid      string
	CallStatus   string
	CallDuration string
	RecordingSid string
	RecordingURL string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration: strings.TrimSpace(r.PostFormValue("CallDuration")),
		RecordingSid: strings.TrimSpace(r.PostFormValue("RecordingSid")),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}, nil
}

// ToStatusUpdate maps the form into a provider-agnostic update.
// ok is false when the status is not one we track.
func (f TwilioStatusForm) ToStatusUpdate() (calls.StatusUpdate, bool) {
	st, ok := MapTwilioStatus(f.CallStatus)
	if !ok {
		return calls.StatusUpdate{}, false
	}
	u := calls.StatusUpdate{Status: st, ProviderRef: f.CallSid}
	if f.CallDuration != "" {
		if n, err := strconv.Atoi(f.CallDuration); err == nil && n >= 0 {
			u.DurationSeconds = &n
		}
	}
	switch {
	case f.RecordingSid != "":
		u.RecordingRef = f.RecordingSid
	case f.RecordingURL != "":
		u.RecordingRef = f.RecordingURL
	}
	return u, true
}

// MapTwilioStatus translates Twilio's call status vocabulary.
func MapTwilioStatus(s string) (calls.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.StatusInitiated, true
	case "ringing":
		return calls.StatusRinging, true
	case "in-progress", "answered":
		return calls.StatusAnswered, true
	case "completed":
		return calls.StatusCompleted, true
	case "failed":
		return calls.StatusFailed, true
	case "no-answer":
		return calls.StatusNoAnswer, true
	case "busy":
		return calls.StatusBusy, true
	case "canceled":
		return calls.StatusCanceled, true
	default:
		return "", false
	}
}

// TwilioRecordingForm is the recording status callback payload.
type TwilioRecordingForm struct {
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration string
}

func ParseTwilioRecordingCallback(r *http.Request) (TwilioRecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioRecordingForm{}, err
	}
	return TwilioRecordingForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:      strings.TrimSpace(r.PostFormValue("RecordingSid")),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus:   strings.TrimSpace(r.PostFormValue("RecordingStatus")),
		RecordingDuration: strings.TrimSpace(r.PostFormValue("RecordingDuration")),
	}, nil
}

// Ref picks the recording SID, falling back to the URL.
func (f TwilioRecordingForm) Ref() string {
	if f.RecordingSid != "" {
		return f.RecordingSid
	}
	return f.RecordingURL
}
