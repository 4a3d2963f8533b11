package store

import "time"

// InsertMessages stores a batch of messages in one transaction. Ingestion is
// idempotent on msg_id: a duplicate is skipped and the stored row keeps its
// original content. Returns the number of newly inserted messages.
func (db *DB) InsertMessages(msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, m := range msgs {
		res, err := tx.Exec(`
			INSERT INTO messages (msg_id, chat_id, chat_name, sender_id, sender_name, body, outbound, is_group, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(msg_id) DO NOTHING`,
			m.MsgID, m.ChatID, m.ChatName, m.SenderID, m.SenderName, m.Body, m.Outbound, m.IsGroup, m.Timestamp, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// MessagesSince returns all messages with timestamp >= since, ordered by
// (timestamp, id) so that tied timestamps keep insertion order.
func (db *DB) MessagesSince(since int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, msg_id, chat_id, chat_name, sender_id, sender_name, body, outbound, is_group, timestamp
		FROM messages
		WHERE timestamp >= ?
		ORDER BY timestamp, id`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ChatID, &m.ChatName, &m.SenderID, &m.SenderName, &m.Body, &m.Outbound, &m.IsGroup, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total number of stored messages.
func (db *DB) CountMessages() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
