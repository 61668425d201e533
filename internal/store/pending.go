package store

import (
	"fmt"
	"math"
	"time"
)

// EnqueueLocation appends a sample to the pending queue. When the queue holds
// more than capacity rows afterwards, the oldest rows are evicted and their
// count returned. capacity <= 0 means unbounded.
func (db *DB) EnqueueLocation(p *PendingLocation, capacity int) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO pending_locations (user_id, latitude, longitude, recorded_at, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, 0, 0, '', ?)`,
		p.UserID, p.Latitude, p.Longitude, p.RecordedAt, now)
	if err != nil {
		return 0, fmt.Errorf("insert pending: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	p.CreatedAt = now

	evicted := 0
	if capacity > 0 {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM pending_locations`).Scan(&count); err != nil {
			return 0, fmt.Errorf("count pending: %w", err)
		}
		if over := count - capacity; over > 0 {
			res, err := tx.Exec(`
				DELETE FROM pending_locations WHERE id IN (
					SELECT id FROM pending_locations ORDER BY id ASC LIMIT ?
				)`, over)
			if err != nil {
				return 0, fmt.Errorf("evict pending: %w", err)
			}
			n, _ := res.RowsAffected()
			evicted = int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return evicted, nil
}

// DuePendingLocations returns queued samples in insertion order. Unless force
// is set, only rows whose next_attempt_at has passed are returned.
func (db *DB) DuePendingLocations(now time.Time, force bool, limit int) ([]PendingLocation, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.UnixMilli()
	if force {
		cutoff = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT id, user_id, latitude, longitude, recorded_at, attempts, next_attempt_at, last_error, created_at
		FROM pending_locations
		WHERE next_attempt_at <= ?
		ORDER BY id ASC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingLocation
	for rows.Next() {
		var p PendingLocation
		if err := rows.Scan(&p.ID, &p.UserID, &p.Latitude, &p.Longitude, &p.RecordedAt, &p.Attempts, &p.NextAttemptAt, &p.LastError, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePendingLocation removes a delivered sample.
func (db *DB) DeletePendingLocation(id int64) error {
	_, err := db.Exec(`DELETE FROM pending_locations WHERE id = ?`, id)
	return err
}

// MarkPendingFailed records a failed delivery attempt and when to retry.
func (db *DB) MarkPendingFailed(id int64, nextAttempt time.Time, errMsg string) error {
	_, err := db.Exec(`
		UPDATE pending_locations
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ?`, nextAttempt.UnixMilli(), errMsg, id)
	return err
}

// PendingLocationCount returns the number of queued samples.
func (db *DB) PendingLocationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_locations`).Scan(&n)
	return n, err
}
