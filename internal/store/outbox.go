package store

import "time"

// QueueOutbox adds a prompt to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, body string, voice bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, body, voice, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, body, voice, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sending", "")
}

// MarkOutboxStreaming updates an outbox entry to 'streaming' status.
func (db *DB) MarkOutboxStreaming(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "streaming", "")
}

// MarkOutboxSent updates an outbox entry to 'sent' status.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sent", "")
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, "failed", errMsg)
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		status, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, body, voice, status, error_message
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.Body, &e.Voice, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasActiveOutbox reports whether a send is queued or in flight. The send
// pipeline is serialized: a new send is rejected while this returns true.
func (db *DB) HasActiveOutbox() (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM outbox WHERE status IN ('queued', 'sending', 'streaming')`).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
