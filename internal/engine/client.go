// Package engine drives generation requests through the relay and reduces
// each engine's response dialect to the uniform result model. One strategy
// per mode; providers that share a mode differ only in wire shape.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

// ErrPollTimeout marks a long-running operation that never finished within
// the attempt budget. Distinguishable from an engine-reported failure so the
// job surfaces "timed out" rather than a generic error.
var ErrPollTimeout = errors.New("engine: poll attempts exhausted")

// Poll pacing for submit-then-poll video operations.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 120
)

// Options configures the relay client.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *infra.Logger
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Client performs HTTP calls against the relay endpoints.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          *infra.Logger
	pollInterval    time.Duration
	maxPollAttempts int
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("engine: relay base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxPollAttempts := opts.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = DefaultMaxPollAttempts
	}
	return &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		logger:          logger,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
	}, nil
}

// endpoint builds the relay path for a provider operation.
func endpoint(provider domain.Provider, op string) string {
	return "/v1/" + string(provider) + "/" + op
}

// postJSON sends a JSON body and decodes a JSON response into out. Non-2xx
// statuses and `{error}` bodies become transport errors.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	raw, contentType, err := c.postRaw(ctx, path, payload)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("engine: %s: unexpected content type %q", path, contentType)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("engine: %s: decode response: %w", path, err)
	}
	return nil
}

// postRaw sends a JSON body and returns the raw response plus its content
// type, for endpoints that may answer with either JSON or a binary stream.
func (c *Client) postRaw(ctx context.Context, path string, payload any) ([]byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("engine: %s: encode request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("engine: %s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("engine: %s: http request: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("engine: %s: read response: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != "" {
			return nil, "", fmt.Errorf("engine: %s: %s", path, detail.Error)
		}
		return nil, "", fmt.Errorf("engine: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	return raw, contentType, nil
}

// Download fetches a remote media URL directly (no relay involvement) and
// returns the bytes plus the declared content type. The gallery uses it to
// materialize URL-backed results before persisting them.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("engine: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("engine: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("engine: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("engine: read download: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
