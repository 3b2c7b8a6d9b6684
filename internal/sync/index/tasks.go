package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, local_root, remote_root, ignores, parallelism, repeat_interval, paused, last_sync_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) UpsertTask(ctx context.Context, task TaskRecord) error {
	ignores, err := json.Marshal(task.Ignores)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_root=excluded.local_root,
			remote_root=excluded.remote_root,
			ignores=excluded.ignores,
			parallelism=excluded.parallelism,
			repeat_interval=excluded.repeat_interval,
			paused=excluded.paused,
			last_sync_time=excluded.last_sync_time
	`, task.ID, task.LocalRoot, task.RemoteRoot, string(ignores), task.Parallelism, task.RepeatInterval, boolToInt(task.Paused), task.LastSyncTime)
	return err
}

func (d *DB) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (d *DB) ListTasks(ctx context.Context) (tasks []TaskRecord, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (d *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) SetTaskPaused(ctx context.Context, id string, paused bool) error {
	res, err := d.db.ExecContext(ctx, `UPDATE sync_tasks SET paused = ? WHERE id = ?`, boolToInt(paused), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkSynced records the start time of the last completed run
func (d *DB) MarkSynced(ctx context.Context, id string, at int64) error {
	res, err := d.db.ExecContext(ctx, `UPDATE sync_tasks SET last_sync_time = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanTask(row rowScanner) (TaskRecord, error) {
	var task TaskRecord
	var ignores string
	var paused int
	if err := row.Scan(&task.ID, &task.LocalRoot, &task.RemoteRoot, &ignores, &task.Parallelism, &task.RepeatInterval, &paused, &task.LastSyncTime); err != nil {
		return TaskRecord{}, err
	}
	if ignores != "" {
		_ = json.Unmarshal([]byte(ignores), &task.Ignores)
	}
	task.Paused = paused != 0
	return task, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
