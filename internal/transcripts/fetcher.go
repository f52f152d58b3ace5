package transcripts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads recording media.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

const maxRecordingBytes = 50 << 20

// HTTPFetcher downloads over HTTP with optional basic auth (Twilio media URLs need the account credentials).
type HTTPFetcher struct {
	Client   *http.Client
	Username string
	Password string
}

func NewHTTPFetcher(username, password string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, Username: username, Password: password}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("transcripts: build request: %w", err)
	}
	if f.Username != "" {
		req.SetBasicAuth(f.Username, f.Password)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("transcripts: download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("transcripts: download recording: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("transcripts: read recording: %w", err)
	}
	if len(data) > maxRecordingBytes {
		return nil, "", fmt.Errorf("transcripts: recording exceeds %d bytes", maxRecordingBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
