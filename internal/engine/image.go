package engine

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/normalize"
)

type imageRequest struct {
	APIKey      string `json:"apiKey"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Steps       int    `json:"steps,omitempty"`
}

type navyImageResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type irisImageResponse struct {
	Data []struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	} `json:"data"`
}

// GenerateImage runs one image job to completion and returns the normalized
// image set. Navy answers with hosted URLs, iris with inline base64.
func (c *Client) GenerateImage(ctx context.Context, job domain.Job) ([]domain.ImageResult, error) {
	req := imageRequest{
		APIKey:      job.APIKey,
		Model:       job.Model,
		Prompt:      job.Prompt,
		AspectRatio: job.Params.AspectRatio,
		Resolution:  job.Params.Resolution,
		Steps:       job.Params.Steps,
	}
	path := endpoint(job.Provider, "image")

	var results []domain.ImageResult
	switch job.Provider {
	case domain.ProviderNavy:
		var decoded navyImageResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		if len(decoded.Images) == 0 {
			return nil, fmt.Errorf("%w: navy image response has no images", normalize.ErrBadPayload)
		}
		for _, img := range decoded.Images {
			result, err := normalize.ImageFromURL(img.URL)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	case domain.ProviderIris:
		var decoded irisImageResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		if len(decoded.Data) == 0 {
			return nil, fmt.Errorf("%w: iris image response has no data", normalize.ErrBadPayload)
		}
		for _, item := range decoded.Data {
			result, err := normalize.ImageFromBase64(item.Data, item.MimeType)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	default:
		return nil, fmt.Errorf("%w: %s does not serve image", domain.ErrModeUnsupported, job.Provider)
	}

	c.logger.Debug().
		Str("provider", string(job.Provider)).
		Str("model", job.Model).
		Int("images", len(results)).
		Msg("engine: generated image set")
	return results, nil
}
