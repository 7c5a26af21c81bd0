package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/normalize"
)

// ProgressFunc receives human-readable stage updates while a strategy runs.
type ProgressFunc func(stage string)

// Stages of the submit-then-poll video flow. Reported through ProgressFunc
// in order; "failed" only on attempt exhaustion or an engine-reported error.
const (
	StageSubmitted   = "submitted"
	StagePolling     = "polling"
	StageDownloading = "downloading"
	StageDone        = "done"
	StageFailed      = "failed"
)

type videoRequest struct {
	APIKey      string `json:"apiKey"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type submitResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pollRequest struct {
	APIKey string `json:"apiKey"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type pollResponse struct {
	Done     bool   `json:"done"`
	VideoURL string `json:"videoUrl"`
	VideoURI string `json:"videoUri"`
	Error    string `json:"error"`
}

type downloadRequest struct {
	APIKey string `json:"apiKey"`
	URI    string `json:"uri"`
}

type onyxVideoResponse struct {
	URL      string `json:"url"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// GenerateVideo runs one video job to completion. Onyx answers in a single
// round trip; navy and iris hand back an operation reference that must be
// polled until done.
func (c *Client) GenerateVideo(ctx context.Context, job domain.Job, progress ProgressFunc) (*domain.MediaPayload, error) {
	if progress == nil {
		progress = func(string) {}
	}
	switch job.Provider {
	case domain.ProviderOnyx:
		return c.directVideo(ctx, job, progress)
	case domain.ProviderNavy, domain.ProviderIris:
		return c.polledVideo(ctx, job, progress)
	default:
		return nil, fmt.Errorf("%w: %s does not serve video", domain.ErrModeUnsupported, job.Provider)
	}
}

func videoRequestFrom(job domain.Job) videoRequest {
	return videoRequest{
		APIKey:      job.APIKey,
		Model:       job.Model,
		Prompt:      job.Prompt,
		Duration:    job.Params.Duration,
		Resolution:  job.Params.Resolution,
		AspectRatio: job.Params.AspectRatio,
	}
}

// directVideo handles engines that answer the generation call itself with
// the finished clip: a hosted URL, inline base64, or a raw binary stream.
func (c *Client) directVideo(ctx context.Context, job domain.Job, progress ProgressFunc) (*domain.MediaPayload, error) {
	progress(StageSubmitted)
	raw, contentType, err := c.postRaw(ctx, endpoint(job.Provider, "video"), videoRequestFrom(job))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "application/json") {
		progress(StageDone)
		return normalize.PayloadFromBinary(raw, contentType, normalize.DefaultVideoMime)
	}
	var decoded onyxVideoResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("engine: decode %s video response: %w", job.Provider, err)
	}
	switch {
	case decoded.URL != "":
		progress(StageDone)
		return normalize.PayloadFromURL(decoded.URL)
	case decoded.Data != "":
		progress(StageDone)
		return normalize.PayloadFromBase64(decoded.Data, decoded.MimeType, normalize.DefaultVideoMime)
	default:
		return nil, fmt.Errorf("%w: %s video response carries no media", normalize.ErrBadPayload, job.Provider)
	}
}

// polledVideo walks the submit/poll/download state machine. Navy references
// operations by id and finishes with a hosted URL; iris references them by
// name and finishes with a URI that must be downloaded through the relay.
func (c *Client) polledVideo(ctx context.Context, job domain.Job, progress ProgressFunc) (*domain.MediaPayload, error) {
	var submitted submitResponse
	if err := c.postJSON(ctx, endpoint(job.Provider, "video"), videoRequestFrom(job), &submitted); err != nil {
		return nil, err
	}
	poll := pollRequest{APIKey: job.APIKey}
	switch job.Provider {
	case domain.ProviderIris:
		poll.Name = submitted.Name
	default:
		poll.ID = submitted.ID
	}
	if poll.ID == "" && poll.Name == "" {
		return nil, fmt.Errorf("%w: %s submit response has no operation reference", normalize.ErrBadPayload, job.Provider)
	}
	progress(StageSubmitted)

	pollPath := endpoint(job.Provider, "video/poll")
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		progress(fmt.Sprintf("%s %d/%d", StagePolling, attempt, c.maxPollAttempts))

		var status pollResponse
		if err := c.postJSON(ctx, pollPath, poll, &status); err != nil {
			return nil, err
		}
		if status.Error != "" {
			progress(StageFailed)
			return nil, fmt.Errorf("engine: %s video failed: %s", job.Provider, status.Error)
		}
		if !status.Done {
			continue
		}
		switch {
		case status.VideoURL != "":
			progress(StageDone)
			return normalize.PayloadFromURL(status.VideoURL)
		case status.VideoURI != "":
			progress(StageDownloading)
			data, mimeType, err := c.downloadOperation(ctx, job, status.VideoURI)
			if err != nil {
				progress(StageFailed)
				return nil, err
			}
			progress(StageDone)
			return normalize.PayloadFromBinary(data, mimeType, normalize.DefaultVideoMime)
		default:
			return nil, fmt.Errorf("%w: %s poll finished without a video reference", normalize.ErrBadPayload, job.Provider)
		}
	}
	progress(StageFailed)
	c.logger.Warn().
		Str("provider", string(job.Provider)).
		Int("attempts", c.maxPollAttempts).
		Msg("engine: video operation never finished")
	return nil, ErrPollTimeout
}

// downloadOperation fetches a finished operation's bytes through the relay,
// which attaches the engine's auth header on the way out.
func (c *Client) downloadOperation(ctx context.Context, job domain.Job, uri string) ([]byte, string, error) {
	path := endpoint(job.Provider, "video/download")
	raw, contentType, err := c.postRaw(ctx, path, downloadRequest{APIKey: job.APIKey, URI: uri})
	if err != nil {
		return nil, "", err
	}
	if strings.HasPrefix(contentType, "application/json") {
		return nil, "", fmt.Errorf("%w: download endpoint answered with json", normalize.ErrBadPayload)
	}
	return raw, contentType, nil
}
