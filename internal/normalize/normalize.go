// Package normalize converts the engines' divergent response payloads into
// the uniform result model. Everything here is a pure transformation; callers
// that need network fetches (remote URLs) do those themselves.
package normalize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studio/internal/domain"
)

// ErrBadPayload marks a response that reached us with a 2xx status but does
// not carry the shape the engine contract promises. It is a protocol error,
// distinct from transport failures.
var ErrBadPayload = errors.New("normalize: unexpected payload shape")

// Fallback mime types used when an engine omits one.
const (
	DefaultImageMime = "image/png"
	DefaultVideoMime = "video/mp4"
	DefaultAudioMime = "audio/mpeg"
)

// DataURL renders bytes as an inline data: URI.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether src is an inline data: URI.
func IsDataURL(src string) bool {
	return strings.HasPrefix(src, "data:")
}

// ParseDataURL splits an inline data: URI back into mime type and bytes.
func ParseDataURL(src string) (string, []byte, error) {
	if !IsDataURL(src) {
		return "", nil, fmt.Errorf("%w: not a data URI", ErrBadPayload)
	}
	rest := strings.TrimPrefix(src, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URI missing payload", ErrBadPayload)
	}
	mime, _, _ := strings.Cut(meta, ";")
	if !strings.Contains(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: data URI not base64-encoded", ErrBadPayload)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode data URI: %v", ErrBadPayload, err)
	}
	return mime, data, nil
}

// ImageFromBase64 turns an inline base64 image payload into an ImageResult
// with a freshly minted identity. An empty or undecodable payload is a
// protocol error.
func ImageFromBase64(b64, mime string) (domain.ImageResult, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return domain.ImageResult{}, fmt.Errorf("%w: empty image payload", ErrBadPayload)
	}
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		return domain.ImageResult{}, fmt.Errorf("%w: decode image payload: %v", ErrBadPayload, err)
	}
	if mime == "" {
		mime = DefaultImageMime
	}
	return domain.ImageResult{
		ID:       uuid.NewString(),
		Src:      "data:" + mime + ";base64," + b64,
		MimeType: mime,
	}, nil
}

// ImageFromURL turns a remote image location into an ImageResult. The bytes
// stay with the engine until someone dereferences the URL.
func ImageFromURL(url string) (domain.ImageResult, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.ImageResult{}, fmt.Errorf("%w: empty image url", ErrBadPayload)
	}
	return domain.ImageResult{
		ID:       uuid.NewString(),
		Src:      url,
		MimeType: DefaultImageMime,
	}, nil
}

// PayloadFromBase64 decodes an inline base64 media body into a materialized
// payload.
func PayloadFromBase64(b64, mime, fallbackMime string) (*domain.MediaPayload, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty media payload", ErrBadPayload)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode media payload: %v", ErrBadPayload, err)
	}
	if mime == "" {
		mime = fallbackMime
	}
	return &domain.MediaPayload{Data: data, MimeType: mime}, nil
}

// PayloadFromURL wraps a remote media location.
func PayloadFromURL(url string) (*domain.MediaPayload, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: empty media url", ErrBadPayload)
	}
	return &domain.MediaPayload{URL: url}, nil
}

// PayloadFromBinary wraps raw response bytes, keeping the declared content
// type unless it is absent or the generic octet-stream.
func PayloadFromBinary(data []byte, contentType, fallbackMime string) (*domain.MediaPayload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty media body", ErrBadPayload)
	}
	mime, _, _ := strings.Cut(contentType, ";")
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = fallbackMime
	}
	return &domain.MediaPayload{Data: data, MimeType: mime}, nil
}
