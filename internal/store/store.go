package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

var (
	// ErrPersistence wraps every failure to durably write a collection.
	ErrPersistence = errors.New("persistence error")
	// ErrVersionConflict is returned by a Backend when the stored version
	// no longer matches the version the write was based on.
	ErrVersionConflict = errors.New("collection version conflict")
	// ErrInvalidCollection is returned for collection names that are not
	// lowercase identifiers.
	ErrInvalidCollection = errors.New("invalid collection name")
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Document is one whole collection as persisted by a Backend.
type Document struct {
	Version int64                      `json:"version"`
	Records map[string]json.RawMessage `json:"records"`
}

// Backend persists whole collection documents.
//
// Load returns version 0 and an empty record set for a collection that has
// never been written. Save must only succeed if the stored version still
// equals prevVersion, and otherwise return ErrVersionConflict.
type Backend interface {
	Load(ctx context.Context, collection string) (Document, error)
	Save(ctx context.Context, collection string, doc Document, prevVersion int64) error
	Close() error
}

// Mutator receives the current value of a key (exists=false and a nil value
// when absent) and returns the value to store. Returning an error aborts the
// upsert without writing anything.
type Mutator func(current json.RawMessage, exists bool) (json.RawMessage, error)

// snapshot is an immutable view of a collection at a durable version.
// Records are never modified after the snapshot is published.
type snapshot struct {
	version int64
	records map[string]json.RawMessage
}

type collection struct {
	name string
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// Store is a versioned document store. Each collection is one document;
// writers to a collection are serialized and readers see the last durable
// snapshot.
type Store struct {
	backend Backend

	mu          sync.Mutex
	collections map[string]*collection
}

// Open creates a Store over backend and eagerly loads the named collections.
func Open(ctx context.Context, backend Backend, preload ...string) (*Store, error) {
	s := &Store{
		backend:     backend,
		collections: make(map[string]*collection),
	}

	for _, name := range preload {
		c, err := s.collection(ctx, name)
		if err != nil {
			return nil, err
		}
		snap := c.snap.Load()
		logging.Info("Loaded collection %s (version %d, %d records)", name, snap.version, len(snap.records))
	}

	return s, nil
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// collection returns the named collection, loading it from the backend on
// first use.
func (s *Store) collection(ctx context.Context, name string) (*collection, error) {
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}

	s.mu.Lock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{name: name}
		s.collections[name] = c
	}
	s.mu.Unlock()

	if c.snap.Load() != nil {
		return c, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Load() != nil {
		return c, nil
	}

	doc, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrPersistence, name, err)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]json.RawMessage)
	}
	c.snap.Store(&snapshot{version: doc.Version, records: doc.Records})
	publish(name, doc.Version, len(doc.Records))
	return c, nil
}

// Get returns the raw value stored under key.
func (s *Store) Get(ctx context.Context, collection, key string) (json.RawMessage, bool, error) {
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, false, err
	}
	v, ok := c.snap.Load().records[key]
	return v, ok, nil
}

// Snapshot returns a copy of the collection's records and their version.
func (s *Store) Snapshot(ctx context.Context, collection string) (map[string]json.RawMessage, int64, error) {
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, 0, err
	}
	snap := c.snap.Load()
	out := make(map[string]json.RawMessage, len(snap.records))
	for k, v := range snap.records {
		out[k] = v
	}
	return out, snap.version, nil
}

// Version returns the last durable version of a collection.
func (s *Store) Version(ctx context.Context, collection string) (int64, error) {
	c, err := s.collection(ctx, collection)
	if err != nil {
		return 0, err
	}
	return c.snap.Load().version, nil
}

// Len returns the number of records in a collection.
func (s *Store) Len(ctx context.Context, collection string) (int, error) {
	c, err := s.collection(ctx, collection)
	if err != nil {
		return 0, err
	}
	return len(c.snap.Load().records), nil
}

// Upsert applies mutate to the value under key and durably writes the
// collection with version+1. Upserts on the same collection are serialized.
func (s *Store) Upsert(ctx context.Context, collection, key string, mutate Mutator) (json.RawMessage, error) {
	var result json.RawMessage
	err := s.update(ctx, collection, func(records map[string]json.RawMessage) (bool, error) {
		current, exists := records[key]
		next, err := mutate(current, exists)
		if err != nil {
			return false, err
		}
		records[key] = next
		result = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes key from a collection. It reports whether the key existed;
// deleting an absent key does not write.
func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	var existed bool
	err := s.update(ctx, collection, func(records map[string]json.RawMessage) (bool, error) {
		if _, existed = records[key]; !existed {
			return false, nil
		}
		delete(records, key)
		return true, nil
	})
	return existed, err
}

// update runs fn against a private copy of the collection inside the
// collection's critical section. If fn reports a change the copy is saved
// and published as the new snapshot; on any failure the old snapshot stays.
func (s *Store) update(ctx context.Context, name string, fn func(records map[string]json.RawMessage) (bool, error)) error {
	c, err := s.collection(ctx, name)
	if err != nil {
		return err
	}

	start := time.Now()
	status := "success"
	defer func() {
		metrics.StoreUpsertsTotal.WithLabelValues(name, status).Inc()
		metrics.StoreUpsertDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		status = "aborted"
		return err
	}

	cur := c.snap.Load()
	next := make(map[string]json.RawMessage, len(cur.records)+1)
	for k, v := range cur.records {
		next[k] = v
	}

	changed, err := fn(next)
	if err != nil {
		status = "aborted"
		return err
	}
	if !changed {
		return nil
	}

	doc := Document{Version: cur.version + 1, Records: next}
	if err := s.backend.Save(ctx, name, doc, cur.version); err != nil {
		status = "error"
		logging.Error("Failed to persist collection %s at version %d: %v", name, doc.Version, err)
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, name, err)
	}

	c.snap.Store(&snapshot{version: doc.Version, records: next})
	publish(name, doc.Version, len(next))
	return nil
}

func publish(name string, version int64, records int) {
	metrics.StoreCollectionVersion.WithLabelValues(name).Set(float64(version))
	metrics.StoreCollectionRecords.WithLabelValues(name).Set(float64(records))
}

// Get decodes the value stored under key into a T.
func Get[T any](ctx context.Context, s *Store, collection, key string) (T, bool, error) {
	var v T
	raw, ok, err := s.Get(ctx, collection, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return v, true, nil
}

// All decodes every record of a collection.
func All[T any](ctx context.Context, s *Store, collection string) (map[string]T, error) {
	raw, _, err := s.Snapshot(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for k, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Upsert is the typed form of Store.Upsert. mutate receives the zero T when
// the key is absent.
func Upsert[T any](ctx context.Context, s *Store, collection, key string, mutate func(current T, exists bool) (T, error)) (T, error) {
	var result T
	_, err := s.Upsert(ctx, collection, key, func(raw json.RawMessage, exists bool) (json.RawMessage, error) {
		var cur T
		if exists {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
			}
		}
		next, err := mutate(cur, exists)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", collection, key, err)
		}
		result = next
		return data, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Backend kinds accepted by NewBackend.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// NewBackend opens the backend of the given kind rooted at dir.
func NewBackend(ctx context.Context, kind, dir string) (Backend, error) {
	switch kind {
	case BackendSQLite, "":
		return OpenSQLite(ctx, filepath.Join(dir, "gallery.db"))
	case BackendJSON:
		return NewJSONBackend(dir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
