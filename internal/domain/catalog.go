package domain

// ModelOption is one selectable catalog entry fetched from an engine.
// Insertion order is preserved for display.
type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MaxCatalogModels caps every provider+mode catalog.
const MaxCatalogModels = 40

// CatalogKey identifies a provider+mode catalog in the record tier.
func CatalogKey(p Provider, m Mode) string {
	return "models/" + string(p) + "/" + string(m)
}

// ModelKey identifies the last-used-model entry for a provider+mode pair.
func ModelKey(p Provider, m Mode) string {
	return string(p) + "/" + string(m)
}

// DefaultModel returns the compiled-in model used before the first catalog
// refresh for a provider+mode pair.
func DefaultModel(p Provider, m Mode) string {
	switch p {
	case ProviderNavy:
		switch m {
		case ModeImage:
			return "navy-image-2"
		case ModeVideo:
			return "navy-motion-1"
		case ModeTTS:
			return "navy-voice-1"
		}
	case ProviderIris:
		switch m {
		case ModeImage:
			return "iris-image-3"
		case ModeVideo:
			return "iris-motion-2"
		case ModeTTS:
			return "iris-voice-2"
		}
	case ProviderOnyx:
		switch m {
		case ModeVideo:
			return "onyx-swift-1"
		case ModeTTS:
			return "onyx-voice-hd"
		}
	}
	return ""
}
