package store

import (
	"database/sql"
	"time"
)

// InsertMessage inserts a message if its identity is new. Conflicts on
// msg_id or on a non-empty scheduled_message_id are ignored: the reconciler
// has already decided what is a duplicate, this is the last line of defense
// against races between the realtime push and a REST fetch.
// Returns true if a row was inserted.
func (db *DB) InsertMessage(m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages
			(msg_id, role, body, sender, metadata, scheduled_message_id, streaming, status, created_at, created_at_raw, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MsgID, m.Role, m.Body, m.Sender, m.Metadata, m.ScheduledMessageID,
		m.Streaming, m.Status, m.CreatedAt, m.CreatedAtRaw, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetMessageBody replaces a message body and streaming/status flags.
// Used by the token accumulator: the body grows while streaming and is
// frozen by the final call with streaming=false.
func (db *DB) SetMessageBody(msgID, body string, streaming bool, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET body = ?, streaming = ?, status = ?
		WHERE msg_id = ?`,
		body, streaming, status, msgID)
	return err
}

// GetMessage returns a single message by its durable id, or nil.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	rows, err := db.Query(messageSelect+` WHERE msg_id = ?`, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ListMessagesBetween returns messages in [fromMs, toMs] inclusive, ordered
// by creation time ascending with insertion order breaking ties.
func (db *DB) ListMessagesBetween(fromMs, toMs int64) ([]Message, error) {
	rows, err := db.Query(messageSelect+`
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// ListMessagesSince returns messages with created_at >= sinceMs, ascending.
func (db *DB) ListMessagesSince(sinceMs int64) ([]Message, error) {
	rows, err := db.Query(messageSelect+`
		WHERE created_at >= ?
		ORDER BY created_at ASC, id ASC`, sinceMs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// DeleteMessage removes a message by its durable id.
func (db *DB) DeleteMessage(msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE msg_id = ?`, msgID)
	return err
}

const messageSelect = `
	SELECT id, msg_id, role, body, sender, metadata, scheduled_message_id, streaming, status, created_at, created_at_raw
	FROM messages`

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.Role, &m.Body, &m.Sender, &m.Metadata,
			&m.ScheduledMessageID, &m.Streaming, &m.Status, &m.CreatedAt, &m.CreatedAtRaw); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
