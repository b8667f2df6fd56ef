// Package store implements the gallery's versioned document store.
//
// Every collection (assets, favorites, albums, analytics) is a single
// document mapping keys to JSON values. A mutation reads the whole
// document, changes one key and writes the whole document back with its
// version incremented, so all writers to one collection pass through a
// per-collection mutex. Different collections are written in parallel.
//
// Reads never touch the backend after the first load: they are served from
// an immutable snapshot that is replaced only after the backend reports a
// durable write. A failed write returns ErrPersistence and leaves the
// previous snapshot in place.
//
// Two backends are provided. SQLiteBackend keeps one row per collection and
// rejects stale writes with a compare-and-set on the version column.
// JSONBackend writes one <collection>.json file per collection through an
// atomic temp-file rename.
//
//	backend, err := store.OpenSQLite(ctx, "/data/db/gallery.db")
//	s, err := store.Open(ctx, backend, "assets", "favorites")
//	ids, err := store.Upsert(ctx, s, "favorites", "u1", func(cur []string, _ bool) ([]string, error) {
//		return append(cur, "a.jpg"), nil
//	})
package store
