package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]func(dir string) Backend {
	t.Helper()
	return map[string]func(dir string) Backend{
		"sqlite": func(dir string) Backend {
			b, err := OpenSQLite(context.Background(), filepath.Join(dir, "gallery.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return b
		},
		"json": func(dir string) Backend {
			b, err := NewJSONBackend(dir)
			if err != nil {
				t.Fatalf("NewJSONBackend: %v", err)
			}
			return b
		},
	}
}

func TestBackendsReopenDurableState(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s, err := Open(ctx, open(dir), "favorites")
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			for _, id := range []string{"a.jpg", "b.jpg"} {
				id := id
				if _, err := Upsert(ctx, s, "favorites", "u1", func(cur []string, _ bool) ([]string, error) {
					return append(cur, id), nil
				}); err != nil {
					t.Fatalf("Upsert: %v", err)
				}
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			s2, err := Open(ctx, open(dir), "favorites")
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer s2.Close()

			ids, ok, err := Get[[]string](ctx, s2, "favorites", "u1")
			if err != nil || !ok {
				t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
			}
			if len(ids) != 2 || ids[0] != "a.jpg" || ids[1] != "b.jpg" {
				t.Errorf("ids = %v, want [a.jpg b.jpg]", ids)
			}
			if v, _ := s2.Version(ctx, "favorites"); v != 2 {
				t.Errorf("version = %d, want 2", v)
			}
		})
	}
}

func TestBackendsRejectStaleVersion(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t.TempDir())
			defer b.Close()

			if _, err := b.Load(ctx, "albums"); err != nil {
				t.Fatalf("Load: %v", err)
			}
			doc := Document{Version: 1, Records: map[string]json.RawMessage{"x": json.RawMessage(`1`)}}
			if err := b.Save(ctx, "albums", doc, 0); err != nil {
				t.Fatalf("first Save: %v", err)
			}

			stale := Document{Version: 1, Records: map[string]json.RawMessage{"y": json.RawMessage(`2`)}}
			if err := b.Save(ctx, "albums", stale, 0); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("stale Save err = %v, want ErrVersionConflict", err)
			}

			loaded, err := b.Load(ctx, "albums")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Version != 1 {
				t.Errorf("version = %d, want 1", loaded.Version)
			}
			if _, ok := loaded.Records["x"]; !ok {
				t.Error("first write lost")
			}
		})
	}
}

func TestJSONBackendFileFormat(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, _ := NewJSONBackend(dir)

	doc := Document{Version: 3, Records: map[string]json.RawMessage{"a.jpg": json.RawMessage(`{"viewCount":2}`)}}
	if _, err := b.Load(ctx, "analytics"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b.versions["analytics"] = 2
	if err := b.Save(ctx, "analytics", doc, 2); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "analytics.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var onDisk struct {
		Version int64                      `json:"version"`
		Records map[string]json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if onDisk.Version != 3 || len(onDisk.Records) != 1 {
		t.Errorf("on disk = %+v", onDisk)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected a single file in %s, found %d", dir, len(entries))
	}
}

func TestJSONBackendWriteFailureRollsBackStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, _ := NewJSONBackend(dir)
	s, _ := Open(ctx, b, "albums")

	if _, err := Upsert(ctx, s, "albums", "x", func(int, bool) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Replace the directory with a file so the atomic write cannot create its temp file.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(dir)

	_, err := Upsert(ctx, s, "albums", "x", func(int, bool) (int, error) { return 2, nil })
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	v, _, _ := Get[int](ctx, s, "albums", "x")
	if v != 1 {
		t.Errorf("value = %d after failed write, want 1", v)
	}
}
