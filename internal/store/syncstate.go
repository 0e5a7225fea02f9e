package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpdateCheckpoint records a sync checkpoint in Unix milliseconds (e.g. the
// last conversations fetch).
func (db *DB) UpdateCheckpoint(key string, value int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint. A key that was never written
// reads as zero, so a fresh daemon reports "never synced" instead of an
// error.
func (db *DB) GetCheckpoint(key string) (int64, error) {
	var value int64
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}
