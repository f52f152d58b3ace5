package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML response builder: only the verbs the outbound flow speaks.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

const (
	voice   = "alice"
	goodbye = "Thank you for your time. Goodbye."
)

// FallbackTwiML is served when rendering fails; the provider must always get valid markup.
const FallbackTwiML = xml.Header + `<Response><Say voice="alice">Thank you for your time. Goodbye.</Say><Hangup></Hangup></Response>`

// RenderScript renders the outbound call flow: speak the script, pause, say goodbye, hang up.
// The script is XML-escaped.
func RenderScript(script string) (string, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return "", errors.New("telephony: script is empty")
	}
	r := twimlResponse{Verbs: []any{
		twimlSay{Voice: voice, Text: script},
		twimlPause{Length: 2},
		twimlSay{Voice: voice, Text: goodbye},
		twimlHangup{},
	}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
