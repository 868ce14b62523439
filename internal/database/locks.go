package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertLock creates a dedup lock for identity if none exists.
// It reports false when a row is already present, expired or not.
func (d *Database) InsertLock(ctx context.Context, identity, jobID string, expiresAt time.Time) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_lock", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_locks (identity, job_id, expires_at) VALUES (?, ?, ?)`,
		identity, jobID, toMillis(expiresAt))
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// DeleteLock removes the lock for identity only if jobID holds it.
func (d *Database) DeleteLock(ctx context.Context, identity, jobID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_lock", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		`DELETE FROM dedup_locks WHERE identity = ? AND job_id = ?`, identity, jobID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ExtendLock moves the expiry of identity's lock to expiresAt if jobID
// still holds it.
func (d *Database) ExtendLock(ctx context.Context, identity, jobID string, expiresAt time.Time) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("extend_lock", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		`UPDATE dedup_locks SET expires_at = ? WHERE identity = ? AND job_id = ?`,
		toMillis(expiresAt), identity, jobID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ClearLock removes the lock for identity regardless of holder.
func (d *Database) ClearLock(ctx context.Context, identity string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_lock", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `DELETE FROM dedup_locks WHERE identity = ?`, identity)
	return err
}

// DeleteExpiredLocks removes every lock whose expiry is at or before now.
func (d *Database) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("sweep_locks", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `DELETE FROM dedup_locks WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetLock returns the holder and expiry of the lock for identity, or ErrNotFound.
func (d *Database) GetLock(ctx context.Context, identity string) (string, time.Time, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var jobID string
	var expiresAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT job_id, expires_at FROM dedup_locks WHERE identity = ?`, identity).Scan(&jobID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return jobID, fromMillis(expiresAt), nil
}
