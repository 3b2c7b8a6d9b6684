package index

import (
	"context"
	"database/sql"
	"errors"
)

func (d *DB) AppendError(ctx context.Context, message string, at int64) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO error_log (message, created_at) VALUES (?, ?)`, message, at)
	return err
}

// ListErrors returns the log oldest first
func (d *DB) ListErrors(ctx context.Context) (entries []ErrorEntry, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT seq, message, created_at FROM error_log ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var e ErrorEntry
		if err := rows.Scan(&e.Seq, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// PopError removes and returns the newest entry
func (d *DB) PopError(ctx context.Context) (*ErrorEntry, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var e ErrorEntry
	row := tx.QueryRowContext(ctx, `SELECT seq, message, created_at FROM error_log ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&e.Seq, &e.Message, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM error_log WHERE seq = ?`, e.Seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *DB) ClearErrors(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM error_log`)
	return err
}
