package store

import (
	"context"
	"errors"
	"path/filepath"

	"studio/internal/infra"
)

// ErrNotFound is returned when a key doesn't exist in a tier.
var ErrNotFound = errors.New("store: not found")

// KV is the narrow persistence contract shared by both storage tiers.
// Implementations are safe for concurrent use; every call observes the
// context before touching the backing medium.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Tiers bundles the two tiers selected at startup. Records always resolves
// when Open succeeds; Blobs is nil when the blob tier failed its capability
// probe, in which case callers inline payloads into the record tier instead.
type Tiers struct {
	Records KV
	Blobs   KV
}

// Open probes both tiers under dataDir. The record tier is required and its
// failure is returned to the caller. The blob tier is best-effort: on probe
// failure Blobs stays nil and media degrades to inline persistence.
func Open(dataDir string, logger infra.Logger) (*Tiers, error) {
	records, err := OpenBolt(filepath.Join(dataDir, "state.db"), "records")
	if err != nil {
		return nil, err
	}

	tiers := &Tiers{Records: records}
	blobs, err := OpenDir(filepath.Join(dataDir, "media"))
	if err != nil {
		logger.Warn().Err(err).Msg("store: blob tier unavailable, media will be inlined")
		return tiers, nil
	}
	tiers.Blobs = blobs
	return tiers, nil
}

// Close releases both tiers.
func (t *Tiers) Close() error {
	if t == nil {
		return nil
	}
	var first error
	if t.Records != nil {
		if err := t.Records.Close(); err != nil {
			first = err
		}
	}
	if t.Blobs != nil {
		if err := t.Blobs.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
