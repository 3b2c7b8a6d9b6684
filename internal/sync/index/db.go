package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

// DefaultPath returns the index location inside the config directory
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, "index.db")
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// schemaVersion 2 stores hash_cache.mtime in nanoseconds
const schemaVersion = 2

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	var version int
	if err := d.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}
	// second resolution entries would compare unequal anyway; drop them
	if _, err := d.db.ExecContext(ctx, `DELETE FROM hash_cache`); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion))
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_tasks (
	id TEXT PRIMARY KEY,
	local_root TEXT NOT NULL,
	remote_root TEXT NOT NULL,
	ignores TEXT,
	parallelism INTEGER NOT NULL DEFAULT 0,
	repeat_interval INTEGER NOT NULL DEFAULT 0,
	paused INTEGER NOT NULL DEFAULT 0,
	last_sync_time INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS hash_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	md5 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS error_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	message TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`
