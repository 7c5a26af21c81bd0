// Package settings owns the durable user state: the settings bag, per-engine
// API keys, model catalogs, the last-used-model map, and the last-output
// snapshot. Everything hydrates once per run and writes back on mutation.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/store"
)

const (
	settingsKey   = "settings"
	lastOutputKey = "last-output"
	lastModelsKey = "last-models"
)

func apiKeyKey(p domain.Provider) string {
	return "keys/" + string(p)
}

// localeTags must stay aligned with domain.Locales.
var localeTags = []language.Tag{language.English, language.Indonesian}

var localeMatcher = language.NewMatcher(localeTags)

// matchLocale maps an arbitrary stored tag onto a supported locale: "en-US"
// still lands on "en". Unparseable or unrelated tags fall back to the
// default.
func matchLocale(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.DefaultLocale
	}
	tag, err := language.Parse(value)
	if err != nil {
		return domain.DefaultLocale
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return domain.DefaultLocale
	}
	return domain.Locales[idx]
}

// Options configures a Store.
type Options struct {
	Records store.KV
	Logger  *infra.Logger
}

// Store guards the mutable user state. All reads hand out copies; all writes
// happen under the store mutex and persist before returning.
type Store struct {
	records store.KV
	logger  *infra.Logger

	mu         sync.Mutex
	current    domain.Settings
	keys       map[domain.Provider]string
	catalogs   map[string][]domain.ModelOption
	lastModels map[string]string
	lastOutput *domain.LastOutput

	subMu   sync.Mutex
	subs    map[int]func(domain.Settings)
	nextSub int
}

// New constructs a settings store with compiled-in defaults; call Load to
// hydrate persisted state.
func New(opts Options) (*Store, error) {
	if opts.Records == nil {
		return nil, errors.New("settings: record store is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	return &Store{
		records:    opts.Records,
		logger:     logger,
		current:    domain.DefaultSettings(),
		keys:       map[domain.Provider]string{},
		catalogs:   map[string][]domain.ModelOption{},
		lastModels: map[string]string{},
		subs:       map[int]func(domain.Settings){},
	}, nil
}

// Load hydrates every record, validating stored values against the current
// option sets. Out-of-range values are discarded in favor of defaults; a
// missing record is not an error.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bag := domain.DefaultSettings()
	if raw, err := s.records.Get(ctx, settingsKey); err == nil {
		if err := json.Unmarshal(raw, &bag); err != nil {
			s.logger.Warn().Err(err).Msg("settings: stored bag unreadable, using defaults")
			bag = domain.DefaultSettings()
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("settings: load bag: %w", err)
	}
	bag.Locale = matchLocale(bag.Locale)
	bag.Normalize()
	s.current = bag

	for _, p := range []domain.Provider{domain.ProviderNavy, domain.ProviderIris, domain.ProviderOnyx} {
		raw, err := s.records.Get(ctx, apiKeyKey(p))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("settings: load key for %s: %w", p, err)
		}
		if key := strings.TrimSpace(string(raw)); key != "" {
			s.keys[p] = key
		}
	}

	for _, m := range domain.Modes {
		for _, p := range domain.ProvidersFor(m) {
			if err := s.loadCatalogLocked(ctx, p, m); err != nil {
				return err
			}
		}
	}

	if raw, err := s.records.Get(ctx, lastModelsKey); err == nil {
		if err := json.Unmarshal(raw, &s.lastModels); err != nil {
			s.logger.Warn().Err(err).Msg("settings: last-model map unreadable, dropping")
			s.lastModels = map[string]string{}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("settings: load last models: %w", err)
	}

	if raw, err := s.records.Get(ctx, lastOutputKey); err == nil {
		var out domain.LastOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			s.logger.Warn().Err(err).Msg("settings: last output unreadable, dropping")
		} else {
			s.lastOutput = &out
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("settings: load last output: %w", err)
	}

	s.logger.Debug().
		Int("catalogs", len(s.catalogs)).
		Int("keys", len(s.keys)).
		Msg("settings: hydrated")
	return nil
}

func (s *Store) loadCatalogLocked(ctx context.Context, p domain.Provider, m domain.Mode) error {
	raw, err := s.records.Get(ctx, domain.CatalogKey(p, m))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: load catalog %s/%s: %w", p, m, err)
	}
	var options []domain.ModelOption
	if err := json.Unmarshal(raw, &options); err != nil {
		s.logger.Warn().Err(err).Str("provider", string(p)).Str("mode", string(m)).
			Msg("settings: stored catalog unreadable, dropping")
		return nil
	}
	options = sanitizeCatalog(options)
	if len(options) > 0 {
		s.catalogs[domain.ModelKey(p, m)] = options
	}
	return nil
}

// Current returns a copy of the settings bag.
func (s *Store) Current() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to the bag under the store mutex, repairs any field fn
// left out of range, persists the whole bag as one record, and notifies
// subscribers. The applied snapshot is returned even when persistence fails.
func (s *Store) Update(ctx context.Context, fn func(*domain.Settings)) (domain.Settings, error) {
	s.mu.Lock()
	next := s.current
	fn(&next)
	next.Locale = matchLocale(next.Locale)
	next.Normalize()
	s.current = next
	s.mu.Unlock()

	s.notify(next)

	raw, err := json.Marshal(next)
	if err != nil {
		return next, fmt.Errorf("settings: encode bag: %w", err)
	}
	if err := s.records.Put(ctx, settingsKey, raw); err != nil {
		s.logger.Warn().Err(err).Msg("settings: write-back failed")
		return next, fmt.Errorf("settings: persist bag: %w", err)
	}
	return next, nil
}

// Subscribe registers a callback invoked with the new bag after every
// update. The returned function unregisters it.
func (s *Store) Subscribe(fn func(domain.Settings)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(bag domain.Settings) {
	s.subMu.Lock()
	fns := make([]func(domain.Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(bag)
	}
}

// APIKey returns the stored key for an engine, empty when none is set.
func (s *Store) APIKey(p domain.Provider) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[p]
}

// SetAPIKey stores or, with an empty key, removes an engine credential.
func (s *Store) SetAPIKey(ctx context.Context, p domain.Provider, key string) error {
	if !domain.KnownProvider(p) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
	}
	key = strings.TrimSpace(key)

	s.mu.Lock()
	if key == "" {
		delete(s.keys, p)
	} else {
		s.keys[p] = key
	}
	s.mu.Unlock()

	if key == "" {
		if err := s.records.Delete(ctx, apiKeyKey(p)); err != nil {
			return fmt.Errorf("settings: clear key for %s: %w", p, err)
		}
		return nil
	}
	if err := s.records.Put(ctx, apiKeyKey(p), []byte(key)); err != nil {
		return fmt.Errorf("settings: persist key for %s: %w", p, err)
	}
	return nil
}

// Catalog returns the cached model catalog for an engine and mode.
func (s *Store) Catalog(p domain.Provider, m domain.Mode) []domain.ModelOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	options := s.catalogs[domain.ModelKey(p, m)]
	out := make([]domain.ModelOption, len(options))
	copy(out, options)
	return out
}

// SetCatalog replaces a catalog after a successful refresh and persists it
// as its own record.
func (s *Store) SetCatalog(ctx context.Context, p domain.Provider, m domain.Mode, options []domain.ModelOption) error {
	options = sanitizeCatalog(options)

	s.mu.Lock()
	s.catalogs[domain.ModelKey(p, m)] = options
	s.mu.Unlock()

	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("settings: encode catalog %s/%s: %w", p, m, err)
	}
	if err := s.records.Put(ctx, domain.CatalogKey(p, m), raw); err != nil {
		return fmt.Errorf("settings: persist catalog %s/%s: %w", p, m, err)
	}
	return nil
}

// ModelFor resolves the model to use for an engine and mode: the last-used
// choice while it remains in the catalog, else the first catalog entry, else
// the compiled-in default.
func (s *Store) ModelFor(p domain.Provider, m domain.Mode) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.ModelKey(p, m)
	catalog := s.catalogs[key]
	if last := s.lastModels[key]; last != "" {
		if len(catalog) == 0 || catalogHas(catalog, last) {
			return last
		}
	}
	if len(catalog) > 0 {
		return catalog[0].ID
	}
	return domain.DefaultModel(p, m)
}

// SetModelFor records the chosen model for an exact engine+mode combination
// and persists the map as one record.
func (s *Store) SetModelFor(ctx context.Context, p domain.Provider, m domain.Mode, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil
	}

	s.mu.Lock()
	s.lastModels[domain.ModelKey(p, m)] = model
	snapshot := make(map[string]string, len(s.lastModels))
	for k, v := range s.lastModels {
		snapshot[k] = v
	}
	s.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("settings: encode last models: %w", err)
	}
	if err := s.records.Put(ctx, lastModelsKey, raw); err != nil {
		return fmt.Errorf("settings: persist last models: %w", err)
	}
	return nil
}

// LastOutput returns the snapshot of the most recent success, if any.
func (s *Store) LastOutput() (domain.LastOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutput == nil {
		return domain.LastOutput{}, false
	}
	return *s.lastOutput, true
}

// SetLastOutput replaces and persists the snapshot.
func (s *Store) SetLastOutput(ctx context.Context, out domain.LastOutput) error {
	s.mu.Lock()
	s.lastOutput = &out
	s.mu.Unlock()

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("settings: encode last output: %w", err)
	}
	if err := s.records.Put(ctx, lastOutputKey, raw); err != nil {
		return fmt.Errorf("settings: persist last output: %w", err)
	}
	return nil
}

func sanitizeCatalog(options []domain.ModelOption) []domain.ModelOption {
	cleaned := make([]domain.ModelOption, 0, len(options))
	for _, opt := range options {
		opt.ID = strings.TrimSpace(opt.ID)
		if opt.ID == "" {
			continue
		}
		if strings.TrimSpace(opt.Label) == "" {
			opt.Label = opt.ID
		}
		cleaned = append(cleaned, opt)
		if len(cleaned) == domain.MaxCatalogModels {
			break
		}
	}
	return cleaned
}

func catalogHas(options []domain.ModelOption, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
