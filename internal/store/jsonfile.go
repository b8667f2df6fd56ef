package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"media-gallery/internal/filesystem"
)

// JSONBackend stores each collection as <dir>/<collection>.json holding
// {"version":n,"records":{...}}. Files are replaced atomically.
type JSONBackend struct {
	dir   string
	retry filesystem.RetryConfig

	mu       sync.Mutex
	versions map[string]int64
}

// NewJSONBackend creates dir if needed and returns a backend rooted there.
func NewJSONBackend(dir string) (*JSONBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &JSONBackend{
		dir:      dir,
		retry:    filesystem.DefaultRetryConfig(),
		versions: make(map[string]int64),
	}, nil
}

func (b *JSONBackend) path(collection string) string {
	return filepath.Join(b.dir, collection+".json")
}

// Load implements Backend.
func (b *JSONBackend) Load(_ context.Context, collection string) (Document, error) {
	doc := Document{Records: map[string]json.RawMessage{}}

	f, err := filesystem.OpenWithRetry(b.path(collection), b.retry)
	if errors.Is(err, fs.ErrNotExist) {
		b.setVersion(collection, 0)
		return doc, nil
	}
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	if doc.Records == nil {
		doc.Records = map[string]json.RawMessage{}
	}
	b.setVersion(collection, doc.Version)
	return doc, nil
}

// Save implements Backend.
func (b *JSONBackend) Save(ctx context.Context, collection string, doc Document, prevVersion int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.versions[collection]; ok && current != prevVersion {
		return fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, collection, current, prevVersion)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", collection, err)
	}
	if err := filesystem.WriteFileAtomic(b.path(collection), data, 0o644, b.retry); err != nil {
		return err
	}

	b.versions[collection] = doc.Version
	return nil
}

// Close implements Backend.
func (b *JSONBackend) Close() error {
	return nil
}

func (b *JSONBackend) setVersion(collection string, v int64) {
	b.mu.Lock()
	b.versions[collection] = v
	b.mu.Unlock()
}
