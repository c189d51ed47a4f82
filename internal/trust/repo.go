package trust

import (
	"database/sql"
	"errors"
	"time"

	"github.com/starford/nbtrust/internal/apperr"
)

// Record is one trusted signature.
type Record struct {
	Algorithm string
	Signature string
	LastSeen  time.Time
}

// Put inserts the signature or, when present, bumps its last_seen.
func (db *DB) Put(algorithm, signature string) error {
	_, err := db.conn.Exec(`
		INSERT INTO nbsignatures (algorithm, signature, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(algorithm, signature) DO UPDATE SET
			last_seen = excluded.last_seen
	`, algorithm, signature, db.now().UnixNano())
	return apperr.Storage("put", err)
}

// Contains reports whether the signature is trusted. A hit counts as a use
// and refreshes last_seen.
func (db *DB) Contains(algorithm, signature string) (bool, error) {
	res, err := db.conn.Exec(`
		UPDATE nbsignatures SET last_seen = ?
		WHERE algorithm = ? AND signature = ?
	`, db.now().UnixNano(), algorithm, signature)
	if err != nil {
		return false, apperr.Storage("contains", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage("contains", err)
	}
	return n > 0, nil
}

// Delete removes the signature. Deleting an absent signature is not an error.
func (db *DB) Delete(algorithm, signature string) error {
	_, err := db.conn.Exec(`DELETE FROM nbsignatures WHERE algorithm = ? AND signature = ?`, algorithm, signature)
	return apperr.Storage("delete", err)
}

// Get returns the record without touching it, or nil when absent.
func (db *DB) Get(algorithm, signature string) (*Record, error) {
	var ns int64
	err := db.conn.QueryRow(`
		SELECT last_seen FROM nbsignatures WHERE algorithm = ? AND signature = ?
	`, algorithm, signature).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get", err)
	}
	return &Record{Algorithm: algorithm, Signature: signature, LastSeen: time.Unix(0, ns)}, nil
}

// Count returns the number of trusted signatures.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM nbsignatures`).Scan(&n); err != nil {
		return 0, apperr.Storage("count", err)
	}
	return n, nil
}

// Recent returns up to limit records, most recently used first.
func (db *DB) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT algorithm, signature, last_seen
		FROM nbsignatures
		ORDER BY last_seen DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperr.Storage("recent", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ns int64
		if err := rows.Scan(&r.Algorithm, &r.Signature, &ns); err != nil {
			return nil, apperr.Storage("recent", err)
		}
		r.LastSeen = time.Unix(0, ns)
		out = append(out, r)
	}
	return out, apperr.Storage("recent", rows.Err())
}
