package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyPrompt     = errors.New("prompt is required")
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrUnknownMode     = errors.New("unknown mode")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrModeUnsupported = errors.New("engine does not serve this mode")
)
