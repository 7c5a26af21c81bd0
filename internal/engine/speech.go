package engine

import (
	"context"
	"fmt"
	"strings"

	"studio/internal/domain"
	"studio/internal/normalize"
)

type speechRequest struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
}

type irisSpeechResponse struct {
	Audio struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	} `json:"audio"`
}

type navySpeechResponse struct {
	URL  string `json:"url"`
	Data string `json:"data"`
}

// GenerateSpeech runs one text-to-speech job. Iris wraps inline audio in an
// envelope, onyx streams raw bytes, navy answers with a hosted URL and falls
// back to inline base64.
func (c *Client) GenerateSpeech(ctx context.Context, job domain.Job) (*domain.MediaPayload, error) {
	req := speechRequest{
		APIKey: job.APIKey,
		Model:  job.Model,
		Prompt: job.Prompt,
		Voice:  job.Params.Voice,
	}
	path := endpoint(job.Provider, "tts")

	switch job.Provider {
	case domain.ProviderIris:
		var decoded irisSpeechResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		if decoded.Audio.Data == "" {
			return nil, fmt.Errorf("%w: iris speech response has no audio", normalize.ErrBadPayload)
		}
		return normalize.PayloadFromBase64(decoded.Audio.Data, decoded.Audio.MimeType, normalize.DefaultAudioMime)
	case domain.ProviderOnyx:
		raw, contentType, err := c.postRaw(ctx, path, req)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(contentType, "application/json") {
			return nil, fmt.Errorf("%w: onyx speech endpoint answered with json", normalize.ErrBadPayload)
		}
		return normalize.PayloadFromBinary(raw, contentType, normalize.DefaultAudioMime)
	case domain.ProviderNavy:
		var decoded navySpeechResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		switch {
		case decoded.URL != "":
			return normalize.PayloadFromURL(decoded.URL)
		case decoded.Data != "":
			return normalize.PayloadFromBase64(decoded.Data, "", normalize.DefaultAudioMime)
		default:
			return nil, fmt.Errorf("%w: navy speech response carries no media", normalize.ErrBadPayload)
		}
	default:
		return nil, fmt.Errorf("%w: %s does not serve tts", domain.ErrModeUnsupported, job.Provider)
	}
}
