package trust

import (
	"database/sql"
	"errors"
	"time"

	"github.com/starford/nbtrust/internal/apperr"
)

// MaybeCull evicts least-recently-used records down to cacheSize, but only
// when at least interval has passed since the previous cull. The marker check,
// the eviction and the marker reset happen in one write transaction.
func (db *DB) MaybeCull(cacheSize int, interval time.Duration) (int, bool, error) {
	return db.cull(cacheSize, interval, false)
}

// Cull evicts down to cacheSize regardless of the marker, and resets it.
func (db *DB) Cull(cacheSize int) (int, error) {
	n, _, err := db.cull(cacheSize, 0, true)
	return n, err
}

func (db *DB) cull(cacheSize int, interval time.Duration, force bool) (int, bool, error) {
	if cacheSize < 0 {
		cacheSize = 0
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, false, apperr.Storage("cull: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := db.now()
	if !force {
		var last int64
		err := tx.QueryRow(`SELECT last_cull FROM cull_marker WHERE id = 1`).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, false, apperr.Storage("cull: read marker", err)
		}
		if err == nil && now.Sub(time.Unix(0, last)) < interval {
			return 0, false, nil
		}
	}

	res, err := tx.Exec(`
		DELETE FROM nbsignatures WHERE id IN (
			SELECT id FROM nbsignatures
			ORDER BY last_seen DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, cacheSize)
	if err != nil {
		return 0, false, apperr.Storage("cull: delete", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, false, apperr.Storage("cull: delete", err)
	}

	if err := setMarker(tx, now); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, apperr.Storage("cull: commit", err)
	}
	return int(removed), true, nil
}

// CullMarker returns when eviction last ran.
func (db *DB) CullMarker() (time.Time, error) {
	var last int64
	if err := db.conn.QueryRow(`SELECT last_cull FROM cull_marker WHERE id = 1`).Scan(&last); err != nil {
		return time.Time{}, apperr.Storage("read cull marker", err)
	}
	return time.Unix(0, last), nil
}

func setMarker(tx *sql.Tx, t time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO cull_marker (id, last_cull) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_cull = excluded.last_cull
	`, t.UnixNano())
	return apperr.Storage("write cull marker", err)
}
