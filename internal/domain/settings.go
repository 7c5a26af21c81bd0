package domain

// Settings is the single serialized bag of generation parameters persisted in
// the record tier. The schema is additive: missing fields keep their defaults
// when a stored record is unmarshalled over DefaultSettings().
type Settings struct {
	Prompt        string   `json:"prompt"`
	Mode          Mode     `json:"mode"`
	Provider      Provider `json:"provider"`
	AspectRatio   string   `json:"aspect_ratio"`
	Resolution    string   `json:"resolution"`
	Steps         int      `json:"steps"`
	Duration      int      `json:"duration"`
	Voice         string   `json:"voice"`
	SaveToGallery bool     `json:"save_to_gallery"`
	Locale        string   `json:"locale"`
}

const (
	// DefaultAspectRatio is applied when a stored ratio is absent or unknown.
	DefaultAspectRatio = "1:1"
	// DefaultResolution is the baseline video resolution.
	DefaultResolution = "720p"
	// DefaultSteps is the baseline diffusion step count for image jobs.
	DefaultSteps = 30
	// MaxSteps bounds the diffusion step count.
	MaxSteps = 50
	// DefaultDuration is the baseline video length in seconds.
	DefaultDuration = 6
	// DefaultLocale is applied when no locale preference is stored.
	DefaultLocale = "en"
)

var (
	// AspectRatios lists the selectable image aspect ratios.
	AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}
	// Resolutions lists the selectable video resolutions.
	Resolutions = []string{"720p", "1080p"}
	// Durations lists the selectable video lengths in seconds.
	Durations = []int{4, 6, 8}
	// Locales lists the locales prompts may be tagged with.
	Locales = []string{"en", "id"}
)

// Voices returns the static speech voices an engine exposes, first entry
// being the default.
func Voices(p Provider) []string {
	switch p {
	case ProviderNavy:
		return []string{"aria", "orion", "ember"}
	case ProviderIris:
		return []string{"kore", "puck", "vega"}
	case ProviderOnyx:
		return []string{"slate", "nova"}
	}
	return nil
}

// DefaultSettings returns the compiled-in parameter bag.
func DefaultSettings() Settings {
	return Settings{
		Mode:          ModeImage,
		Provider:      ProviderNavy,
		AspectRatio:   DefaultAspectRatio,
		Resolution:    DefaultResolution,
		Steps:         DefaultSteps,
		Duration:      DefaultDuration,
		Voice:         Voices(ProviderNavy)[0],
		SaveToGallery: true,
		Locale:        DefaultLocale,
	}
}

// ValidAspectRatio reports membership in the aspect ratio option set.
func ValidAspectRatio(v string) bool { return containsString(AspectRatios, v) }

// ValidResolution reports membership in the resolution option set.
func ValidResolution(v string) bool { return containsString(Resolutions, v) }

// ValidDuration reports membership in the duration option set.
func ValidDuration(v int) bool {
	for _, d := range Durations {
		if d == v {
			return true
		}
	}
	return false
}

// ValidVoice reports whether v is a voice offered by engine p.
func ValidVoice(p Provider, v string) bool { return containsString(Voices(p), v) }

// Normalize discards out-of-range fields, replacing each with its
// compiled-in default. Stored records that predate an option-set change are
// repaired here rather than rejected.
func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	if !KnownMode(s.Mode) {
		s.Mode = ModeImage
	}
	if !KnownProvider(s.Provider) || !s.Provider.Serves(s.Mode) {
		s.Provider = ProvidersFor(s.Mode)[0]
	}
	if !ValidAspectRatio(s.AspectRatio) {
		s.AspectRatio = DefaultAspectRatio
	}
	if !ValidResolution(s.Resolution) {
		s.Resolution = DefaultResolution
	}
	if s.Steps < 1 || s.Steps > MaxSteps {
		s.Steps = DefaultSteps
	}
	if !ValidDuration(s.Duration) {
		s.Duration = DefaultDuration
	}
	if !ValidVoice(s.Provider, s.Voice) {
		s.Voice = Voices(s.Provider)[0]
	}
	if !containsString(Locales, s.Locale) {
		s.Locale = DefaultLocale
	}
}

// Params projects the bag onto the per-job parameter set.
func (s Settings) Params() JobParams {
	return JobParams{
		AspectRatio:   s.AspectRatio,
		Resolution:    s.Resolution,
		Steps:         s.Steps,
		Duration:      s.Duration,
		Voice:         s.Voice,
		SaveToGallery: s.SaveToGallery,
		Locale:        s.Locale,
	}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
