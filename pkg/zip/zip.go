// Package zip bundles gallery media into a single archive for export.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file to place in the archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive writes the entries into an in-memory zip. Entries without data are
// skipped; duplicate names get a numeric prefix so nothing is silently
// overwritten.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := map[string]int{}
	for _, entry := range entries {
		if len(entry.Data) == 0 || entry.Name == "" {
			continue
		}
		name := entry.Name
		if n := seen[entry.Name]; n > 0 {
			name = fmt.Sprintf("%d-%s", n, entry.Name)
		}
		seen[entry.Name]++
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip: add %s: %w", name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
