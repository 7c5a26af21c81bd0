package domain

import "time"

// MediaKind enumerates stored media types.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// KindForMode maps a job mode onto the media kind it produces.
func KindForMode(m Mode) MediaKind {
	switch m {
	case ModeVideo:
		return MediaVideo
	case ModeTTS:
		return MediaAudio
	default:
		return MediaImage
	}
}

// StoredMedia is one gallery entry. Ref is a dereferenceable content handle:
// a data: URI when the payload is inlined, otherwise an ephemeral blob:
// reference resolved through the gallery's blob tier. Blob refs are minted
// per run and never persisted.
type StoredMedia struct {
	ID        string
	Ref       string
	Prompt    string
	Model     string
	Provider  Provider
	Kind      MediaKind
	MimeType  string
	CreatedAt time.Time
}

// ImageResult is one normalized image produced by an image job. Src is a
// data: URI when the engine returned the payload inline, otherwise a remote
// URL fetched on demand.
type ImageResult struct {
	ID       string
	Src      string
	MimeType string
}

// MediaPayload is a normalized single-media result: a remote URL, inline
// bytes, or both when the strategy already downloaded the content.
type MediaPayload struct {
	URL      string
	Data     []byte
	MimeType string
}

// Output is the uniform result record a successful job hands to the gallery
// and the last-output snapshot. Exactly one field is populated, matching the
// job's mode.
type Output struct {
	Images []ImageResult
	Video  *MediaPayload
	Audio  *MediaPayload
}

// Empty reports whether the output carries no media at all.
func (o Output) Empty() bool {
	return len(o.Images) == 0 && o.Video == nil && o.Audio == nil
}
