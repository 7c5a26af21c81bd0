package domain

import "time"

// Mode enumerates the generation categories a job can request.
type Mode string

const (
	ModeImage Mode = "image"
	ModeVideo Mode = "video"
	ModeTTS   Mode = "tts"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeImage, ModeVideo, ModeTTS}

// Provider enumerates the upstream engines reachable through the relay.
type Provider string

const (
	ProviderNavy Provider = "navy"
	ProviderIris Provider = "iris"
	ProviderOnyx Provider = "onyx"
)

// JobStatus enumerates job lifecycle states. Transitions are monotonic:
// queued → running → success|error.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobError
}

// JobParams carries the mode-specific knobs captured at enqueue time. Only
// the fields relevant to the job's mode and provider are meaningful.
type JobParams struct {
	AspectRatio   string
	Resolution    string
	Steps         int
	Duration      int
	Voice         string
	SaveToGallery bool
	Locale        string
}

// Job tracks one generation request through its lifecycle. Jobs are owned and
// mutated exclusively by the queue; once terminal they are immutable apart
// from history trimming.
type Job struct {
	ID         string
	Status     JobStatus
	Mode       Mode
	Provider   Provider
	Model      string
	Prompt     string
	APIKey     string
	Params     JobParams
	Progress   string
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// KnownMode reports whether m is a supported mode.
func KnownMode(m Mode) bool {
	switch m {
	case ModeImage, ModeVideo, ModeTTS:
		return true
	}
	return false
}

// KnownProvider reports whether p is a supported engine.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderNavy, ProviderIris, ProviderOnyx:
		return true
	}
	return false
}

// ProvidersFor returns the engines able to serve the given mode, in display
// order. Onyx carries no image model; the other engines cover every mode.
func ProvidersFor(m Mode) []Provider {
	switch m {
	case ModeImage:
		return []Provider{ProviderNavy, ProviderIris}
	case ModeVideo, ModeTTS:
		return []Provider{ProviderNavy, ProviderIris, ProviderOnyx}
	}
	return nil
}

// Serves reports whether provider p can execute jobs of mode m.
func (p Provider) Serves(m Mode) bool {
	for _, candidate := range ProvidersFor(m) {
		if candidate == p {
			return true
		}
	}
	return false
}
