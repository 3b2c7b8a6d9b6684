package index

import (
	"context"
	"database/sql"
	"errors"
)

// LookupHash returns the cached md5 of path if size and mtime (nanoseconds)
// still match
func (d *DB) LookupHash(ctx context.Context, path string, size, mtime int64) (string, bool, error) {
	row := d.db.QueryRowContext(ctx, `SELECT md5 FROM hash_cache WHERE path = ? AND size = ? AND mtime = ?`, path, size, mtime)
	var sum string
	if err := row.Scan(&sum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return sum, true, nil
}

func (d *DB) StoreHash(ctx context.Context, entry HashEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO hash_cache (path, size, mtime, md5) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size=excluded.size,
			mtime=excluded.mtime,
			md5=excluded.md5
	`, entry.Path, entry.Size, entry.MTime, entry.MD5)
	return err
}

// PruneHashes drops cached hashes under root
func (d *DB) PruneHashes(ctx context.Context, root string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM hash_cache WHERE path = ? OR substr(path, 1, ?) = ?`, root, len(root)+1, root+"/")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
