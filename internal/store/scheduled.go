package store

import "time"

// UpsertScheduledMessage inserts or updates a scheduled message row.
// The server owns is_delivered; acked_at is local bookkeeping and is never
// overwritten by a refetch.
func (db *DB) UpsertScheduledMessage(sm *ScheduledMessage) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO scheduled_messages (server_id, content, scheduled_for, scheduled_for_raw, is_delivered, acked_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			content = excluded.content,
			scheduled_for = excluded.scheduled_for,
			scheduled_for_raw = excluded.scheduled_for_raw,
			is_delivered = excluded.is_delivered,
			updated_at = excluded.updated_at`,
		sm.ServerID, sm.Content, sm.ScheduledFor, sm.ScheduledForRaw, sm.IsDelivered, now)
	return err
}

// MarkScheduledAcked records that a deliver call succeeded for a scheduled message.
func (db *DB) MarkScheduledAcked(serverID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE scheduled_messages SET is_delivered = 1, acked_at = ?, updated_at = ?
		WHERE server_id = ?`, now, now, serverID)
	return err
}

// ListScheduledMessages returns all known scheduled messages, earliest slot first.
func (db *DB) ListScheduledMessages() ([]ScheduledMessage, error) {
	rows, err := db.Query(`
		SELECT id, server_id, content, scheduled_for, scheduled_for_raw, is_delivered, acked_at
		FROM scheduled_messages
		ORDER BY scheduled_for ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sms []ScheduledMessage
	for rows.Next() {
		var sm ScheduledMessage
		if err := rows.Scan(&sm.ID, &sm.ServerID, &sm.Content, &sm.ScheduledFor,
			&sm.ScheduledForRaw, &sm.IsDelivered, &sm.AckedAt); err != nil {
			return nil, err
		}
		sms = append(sms, sm)
	}
	return sms, rows.Err()
}
