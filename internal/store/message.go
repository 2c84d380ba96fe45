package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertMessage appends a message to its room's log, assigning the
// store-side timestamp. The timestamp is strictly monotonic per room: two
// appends landing within the same millisecond still get distinct, ordered
// timestamps. The assigned value is written back into m.
func (db *DB) InsertMessage(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(timestamp) FROM messages WHERE room_key = ?`, m.RoomKey).Scan(&last); err != nil {
		return fmt.Errorf("read last timestamp: %w", err)
	}

	ts := time.Now().UnixMilli()
	if last.Valid && last.Int64 >= ts {
		ts = last.Int64 + 1
	}
	m.Timestamp = ts

	if _, err := tx.Exec(`
		INSERT INTO messages (id, room_key, sender_id, sender_name, body, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RoomKey, m.SenderID, m.SenderName, m.Body, m.Timestamp, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns the full ordered log for a room, ascending by the
// store-assigned timestamp.
func (db *DB) ListMessages(roomKey string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, room_key, sender_id, sender_name, body, timestamp
		FROM messages
		WHERE room_key = ?
		ORDER BY timestamp ASC`, roomKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomKey, &m.SenderID, &m.SenderName, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessagesPage returns a page of messages using keyset pagination by
// timestamp, newest first. Used by the REST history endpoint.
func (db *DB) ListMessagesPage(roomKey string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, room_key, sender_id, sender_name, body, timestamp
		FROM messages
		WHERE room_key = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, roomKey, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomKey, &m.SenderID, &m.SenderName, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PurgeRoom deletes all messages in a room in bounded batches, keeping the
// room record itself. Returns how many rows were deleted; on error the count
// reflects the batches that did commit, so the caller can report an
// incomplete purge instead of claiming success.
func (db *DB) PurgeRoom(roomKey string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	deleted := 0
	for {
		res, err := db.Exec(`
			DELETE FROM messages
			WHERE id IN (SELECT id FROM messages WHERE room_key = ? LIMIT ?)`,
			roomKey, batchSize)
		if err != nil {
			return deleted, fmt.Errorf("purge batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
		if n < int64(batchSize) {
			return deleted, nil
		}
	}
}
