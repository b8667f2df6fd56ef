package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-gallery/internal/logging"
)

// Default timeout for opening the database
const defaultTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);`

// SQLiteBackend keeps every collection document in one row of the
// documents table and guards writes with a compare-and-set on version.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens (or creates) the database file at dbPath. The parent
// directory must already exist and be writable.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout keeps concurrent writers to different collections from
	// failing with "database is locked"
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return &SQLiteBackend{db: db, dbPath: dbPath}, nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, collection string) (Document, error) {
	var (
		version int64
		body    string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT version, body FROM documents WHERE collection = ?`, collection,
	).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{Records: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("query %s: %w", collection, err)
	}

	records := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", collection, err)
	}
	return Document{Version: version, Records: records}, nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, collection string, doc Document, prevVersion int64) error {
	body, err := json.Marshal(doc.Records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", collection, err)
	}
	now := time.Now().Unix()

	var res sql.Result
	if prevVersion == 0 {
		res, err = b.db.ExecContext(ctx,
			`INSERT INTO documents (collection, version, body, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(collection) DO NOTHING`,
			collection, doc.Version, string(body), now)
	} else {
		res, err = b.db.ExecContext(ctx,
			`UPDATE documents SET version = ?, body = ?, updated_at = ?
			 WHERE collection = ? AND version = ?`,
			doc.Version, string(body), now, collection, prevVersion)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", collection, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s: %w", collection, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, collection, prevVersion)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	logging.Info("Closing database %s", b.dbPath)
	return b.db.Close()
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 != 0 {
			continue
		}
		logging.Warn("%s is read-only (mode %v), writes will fail", path, info.Mode())
		if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
			logging.Error("Failed to fix permissions on %s: %v", path, chmodErr)
		} else {
			logging.Info("Fixed permissions on %s", path)
		}
	}

	return nil
}
