// Package gallery keeps generated media across runs. Entries live in memory
// as StoredMedia; bytes land in the blob tier when it is available and fall
// back to inline data URIs when it is not. The durable record list mirrors
// the in-memory list after every mutation.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/normalize"
	"studio/internal/store"
)

// DefaultCap bounds the retained gallery entries, newest first.
const DefaultCap = 60

const recordKey = "gallery"

// Fetcher materializes remote media URLs; *engine.Client satisfies it.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Options configures a Manager.
type Options struct {
	Records store.KV
	Blobs   store.KV
	Fetcher Fetcher
	Logger  *infra.Logger
	Cap     int
}

// Manager owns the gallery list. Records is required; a nil Blobs tier
// switches every save to inline persistence.
type Manager struct {
	records store.KV
	blobs   store.KV
	fetcher Fetcher
	logger  *infra.Logger
	cap     int

	mu    sync.Mutex
	items []domain.StoredMedia
}

// mediaRecord is the durable gallery entry. DataURL is set only when the
// payload could not be placed in the blob tier; blob-backed entries are
// reassembled from the tier at load time.
type mediaRecord struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	Kind      string    `json:"kind"`
	MimeType  string    `json:"mimeType"`
	DataURL   string    `json:"dataUrl,omitempty"`
}

// New constructs a gallery manager.
func New(opts Options) (*Manager, error) {
	if opts.Records == nil {
		return nil, errors.New("gallery: record store is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	capacity := opts.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Manager{
		records: opts.Records,
		blobs:   opts.Blobs,
		fetcher: opts.Fetcher,
		logger:  logger,
		cap:     capacity,
	}, nil
}

// Load hydrates the gallery from the record tier. Entries persisted inline
// keep their data URI; blob-backed entries get a fresh ephemeral reference,
// or none at all when the blob tier is gone this run.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.records.Get(ctx, recordKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gallery: load records: %w", err)
	}
	var records []mediaRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("gallery: decode records: %w", err)
	}

	items := make([]domain.StoredMedia, 0, len(records))
	for _, r := range records {
		entry := domain.StoredMedia{
			ID:        r.ID,
			Prompt:    r.Prompt,
			Model:     r.Model,
			Provider:  domain.Provider(r.Provider),
			Kind:      domain.MediaKind(r.Kind),
			MimeType:  r.MimeType,
			CreatedAt: r.CreatedAt,
		}
		switch {
		case r.DataURL != "":
			entry.Ref = r.DataURL
		case m.blobs != nil:
			entry.Ref = blobRef(r.ID)
		}
		items = append(items, entry)
	}

	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	m.logger.Debug().Int("entries", len(items)).Msg("gallery: hydrated")
	return nil
}

// Add persists a successful job's output. It is a no-op unless the job asked
// for gallery saving and the output carries media. One failed item never
// fails the batch.
func (m *Manager) Add(ctx context.Context, job domain.Job, out domain.Output) []domain.StoredMedia {
	if !job.Params.SaveToGallery || out.Empty() {
		return nil
	}
	kind := domain.KindForMode(job.Mode)

	var added []domain.StoredMedia
	for _, img := range out.Images {
		id := img.ID
		if id == "" {
			id = uuid.NewString()
		}
		added = append(added, m.entryFor(ctx, job, kind, id, img.Src, nil, img.MimeType))
	}
	if out.Video != nil {
		added = append(added, m.entryFor(ctx, job, kind, uuid.NewString(), "", out.Video, out.Video.MimeType))
	}
	if out.Audio != nil {
		added = append(added, m.entryFor(ctx, job, kind, uuid.NewString(), "", out.Audio, out.Audio.MimeType))
	}

	m.mu.Lock()
	m.items = append(append([]domain.StoredMedia{}, added...), m.items...)
	var dropped []domain.StoredMedia
	if len(m.items) > m.cap {
		dropped = append(dropped, m.items[m.cap:]...)
		m.items = m.items[:m.cap]
	}
	records := m.recordsLocked()
	m.mu.Unlock()

	if err := m.persist(ctx, records); err != nil {
		m.logger.Warn().Err(err).Msg("gallery: write-back failed")
	}
	m.dropBlobs(ctx, dropped)
	return added
}

// entryFor builds one gallery entry, deciding between blob-backed and inline
// persistence. src is an image source (data URI or remote URL); payload is a
// materialized or URL-backed media payload.
func (m *Manager) entryFor(ctx context.Context, job domain.Job, kind domain.MediaKind, id, src string, payload *domain.MediaPayload, mimeHint string) domain.StoredMedia {
	entry := domain.StoredMedia{
		ID:        id,
		Prompt:    job.Prompt,
		Model:     job.Model,
		Provider:  job.Provider,
		Kind:      kind,
		MimeType:  mimeHint,
		CreatedAt: time.Now(),
	}

	data, mime, err := m.materialize(ctx, src, payload)
	if err != nil {
		// Keep the remote reference so the entry stays usable; the bytes
		// simply never moved onto this machine.
		m.logger.Warn().Err(err).Str("media_id", id).Msg("gallery: materialize failed, keeping source reference")
		entry.Ref = remoteSource(src, payload)
		return entry
	}
	if mime == "" {
		mime = mimeHint
	}
	entry.MimeType = mime

	if m.blobs == nil {
		entry.Ref = normalize.DataURL(mime, data)
		return entry
	}
	if err := m.blobs.Put(ctx, blobKey(id, mime), data); err != nil {
		m.logger.Warn().Err(err).Str("media_id", id).Msg("gallery: blob write failed, inlining")
		entry.Ref = normalize.DataURL(mime, data)
		return entry
	}
	entry.Ref = blobRef(id)
	return entry
}

// materialize resolves an item to raw bytes: inline payloads and data URIs
// decode locally, remote URLs go through the fetcher.
func (m *Manager) materialize(ctx context.Context, src string, payload *domain.MediaPayload) ([]byte, string, error) {
	if payload != nil && len(payload.Data) > 0 {
		return payload.Data, payload.MimeType, nil
	}
	url := src
	if url == "" && payload != nil {
		url = payload.URL
	}
	if normalize.IsDataURL(url) {
		mime, data, err := normalize.ParseDataURL(url)
		return data, mime, err
	}
	if url == "" {
		return nil, "", errors.New("gallery: item carries no media")
	}
	if m.fetcher == nil {
		return nil, "", errors.New("gallery: no fetcher for remote media")
	}
	return m.fetcher.Download(ctx, url)
}

// List returns the gallery snapshot, newest first.
func (m *Manager) List() []domain.StoredMedia {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StoredMedia, len(m.items))
	copy(out, m.items)
	return out
}

// Get returns one entry by identity.
func (m *Manager) Get(id string) (domain.StoredMedia, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.StoredMedia{}, false
}

// Open resolves a content reference to bytes and mime type. Data URIs decode
// locally, blob refs read the blob tier, remote URLs go through the fetcher.
func (m *Manager) Open(ctx context.Context, ref string) ([]byte, string, error) {
	switch {
	case normalize.IsDataURL(ref):
		mime, data, err := normalize.ParseDataURL(ref)
		return data, mime, err
	case strings.HasPrefix(ref, "blob:"):
		id := strings.TrimPrefix(ref, "blob:")
		entry, ok := m.Get(id)
		if !ok {
			return nil, "", fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
		}
		if m.blobs == nil {
			return nil, "", errors.New("gallery: blob tier unavailable")
		}
		data, err := m.blobs.Get(ctx, blobKey(id, entry.MimeType))
		if err != nil {
			return nil, "", fmt.Errorf("gallery: read blob %s: %w", id, err)
		}
		return data, entry.MimeType, nil
	case ref == "":
		return nil, "", errors.New("gallery: entry has no content this run")
	default:
		if m.fetcher == nil {
			return nil, "", errors.New("gallery: no fetcher for remote media")
		}
		return m.fetcher.Download(ctx, ref)
	}
}

// Clear empties the gallery and purges the blob tier unconditionally.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()

	if err := m.persist(ctx, []mediaRecord{}); err != nil {
		return err
	}
	if m.blobs != nil {
		if err := m.blobs.Clear(ctx); err != nil {
			return fmt.Errorf("gallery: purge blobs: %w", err)
		}
	}
	m.logger.Info().Msg("gallery: cleared")
	return nil
}

func (m *Manager) recordsLocked() []mediaRecord {
	records := make([]mediaRecord, 0, len(m.items))
	for _, item := range m.items {
		r := mediaRecord{
			ID:        item.ID,
			Prompt:    item.Prompt,
			Model:     item.Model,
			Provider:  string(item.Provider),
			CreatedAt: item.CreatedAt,
			Kind:      string(item.Kind),
			MimeType:  item.MimeType,
		}
		if !strings.HasPrefix(item.Ref, "blob:") {
			r.DataURL = item.Ref
		}
		records = append(records, r)
	}
	return records
}

func (m *Manager) persist(ctx context.Context, records []mediaRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("gallery: encode records: %w", err)
	}
	if err := m.records.Put(ctx, recordKey, raw); err != nil {
		return fmt.Errorf("gallery: persist records: %w", err)
	}
	return nil
}

// dropBlobs removes the tier files behind entries that fell off the cap.
// Inline and remote entries have nothing in the tier.
func (m *Manager) dropBlobs(ctx context.Context, dropped []domain.StoredMedia) {
	if m.blobs == nil {
		return
	}
	for _, entry := range dropped {
		if !strings.HasPrefix(entry.Ref, "blob:") {
			continue
		}
		if err := m.blobs.Delete(ctx, blobKey(entry.ID, entry.MimeType)); err != nil {
			m.logger.Warn().Err(err).Str("media_id", entry.ID).Msg("gallery: drop blob failed")
		}
	}
}

func remoteSource(src string, payload *domain.MediaPayload) string {
	if src != "" {
		return src
	}
	if payload != nil {
		return payload.URL
	}
	return ""
}

func blobRef(id string) string {
	return "blob:" + id
}

// blobKey names the on-disk blob for an entry so the file stays openable
// outside the studio.
func blobKey(id, mime string) string {
	return id + extensionForMIME(mime)
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
