package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig configures the REST adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL replaces the https://api.twilio.com host (tests, regional proxies).
	BaseURL string

	// Timeout bounds each request.
	Timeout time.Duration

	// RatePerSecond limits outbound API requests; <= 0 disables limiting.
	RatePerSecond float64

	// MachineDetection is passed through on call creation ("Enable", "DetectMessageEnd"); empty disables it.
	MachineDetection string

	// Transport overrides the HTTP transport under the SDK client.
	Transport http.RoundTripper
}

// TwilioProvider talks to the Twilio Voice API through the twilio-go SDK.
type TwilioProvider struct {
	sid     string
	baseURL string
	amd     string
	api     *openapi.ApiService
	limiter *rate.Limiter
}

var _ Provider = (*TwilioProvider)(nil)

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token are required", ErrNotConfigured)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if baseURL != defaultTwilioBaseURL {
		target, err := url.Parse(baseURL)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("%w: invalid twilio base url %q", ErrNotConfigured, cfg.BaseURL)
		}
		transport = &hostRewrite{target: target, next: transport}
	}

	base := &twclient.Client{
		Credentials: twclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  &http.Client{Timeout: timeout, Transport: transport},
	}
	base.SetAccountSid(cfg.AccountSID)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Client: base})

	p := &TwilioProvider{
		sid:     cfg.AccountSID,
		baseURL: baseURL,
		amd:     cfg.MachineDetection,
		api:     rest.Api,
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	_, err := p.api.FetchAccount(p.sid)
	return mapTwilioError(err)
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.InstructionsURL)
	params.SetMethod(http.MethodPost)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	if req.Timeout > 0 {
		params.SetTimeout(int(req.Timeout.Seconds()))
	}
	if req.Record {
		params.SetRecord(true)
		if req.RecordingCallbackURL != "" {
			params.SetRecordingStatusCallback(req.RecordingCallbackURL)
			params.SetRecordingStatusCallbackMethod(http.MethodPost)
		}
	}
	if p.amd != "" {
		params.SetMachineDetection(p.amd)
	}

	if err := p.wait(ctx); err != nil {
		return PlaceCallResult{}, err
	}
	resp, err := p.api.CreateCall(params)
	if err != nil {
		return PlaceCallResult{}, mapTwilioError(err)
	}
	if resp == nil || deref(resp.Sid) == "" {
		return PlaceCallResult{}, &ProviderError{HTTPStatus: http.StatusOK, Message: "response missing call sid"}
	}
	return PlaceCallResult{ProviderRef: *resp.Sid, Status: deref(resp.Status)}, nil
}

func (p *TwilioProvider) CancelCall(ctx context.Context, providerRef string) error {
	if providerRef == "" {
		return ErrNotFound
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("canceled")
	if err := p.wait(ctx); err != nil {
		return err
	}
	_, err := p.api.UpdateCall(providerRef, params)
	return mapTwilioError(err)
}

func (p *TwilioProvider) FetchCall(ctx context.Context, providerRef string) (CallInfo, error) {
	if providerRef == "" {
		return CallInfo{}, ErrNotFound
	}
	if err := p.wait(ctx); err != nil {
		return CallInfo{}, err
	}
	out, err := p.api.FetchCall(providerRef, &openapi.FetchCallParams{})
	if err != nil {
		return CallInfo{}, mapTwilioError(err)
	}
	info := CallInfo{
		ProviderRef: deref(out.Sid),
		Status:      deref(out.Status),
		Direction:   deref(out.Direction),
		From:        deref(out.From),
		To:          deref(out.To),
		Price:       deref(out.Price),
		PriceUnit:   deref(out.PriceUnit),
		StartTime:   parseTwilioTime(deref(out.StartTime)),
		EndTime:     parseTwilioTime(deref(out.EndTime)),
	}
	info.DurationSeconds, _ = strconv.Atoi(deref(out.Duration))
	return info, nil
}

// RecordingURL returns the WAV media URL for a recording SID. Full URLs pass through.
func (p *TwilioProvider) RecordingURL(_ context.Context, recordingRef string) (string, error) {
	if recordingRef == "" {
		return "", ErrNotFound
	}
	if strings.HasPrefix(recordingRef, "http://") || strings.HasPrefix(recordingRef, "https://") {
		return recordingRef, nil
	}
	return p.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.sid) + "/Recordings/" + url.PathEscape(recordingRef) + ".wav", nil
}

// wait applies the rate limit. The SDK is not context-aware, so ctx is only
// honored up to the point the request is sent; the client timeout bounds the rest.
func (p *TwilioProvider) wait(ctx context.Context) error {
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return ctx.Err()
}

func mapTwilioError(err error) error {
	if err == nil {
		return nil
	}
	var te *twclient.TwilioRestError
	if errors.As(err, &te) {
		if te.Status == http.StatusNotFound {
			return ErrNotFound
		}
		return &ProviderError{HTTPStatus: te.Status, Code: te.Code, Message: te.Message}
	}
	return fmt.Errorf("telephony: twilio request: %w", err)
}

// hostRewrite sends SDK requests to a different scheme+host, keeping the path.
type hostRewrite struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = h.target.Scheme
	r.URL.Host = h.target.Host
	r.Host = h.target.Host
	return h.next.RoundTrip(r)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseTwilioTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
