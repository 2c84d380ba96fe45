package store

import "time"

// MarkSeen records that a message id has been surfaced as a notification to
// the user. Idempotent.
func (db *DB) MarkSeen(userID, msgID string) error {
	_, err := db.Exec(`
		INSERT INTO seen_messages (user_id, msg_id, seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, msg_id) DO NOTHING`,
		userID, msgID, time.Now().UnixMilli())
	return err
}

// LoadSeen returns all message ids already surfaced to the user.
func (db *DB) LoadSeen(userID string) ([]string, error) {
	rows, err := db.Query(`SELECT msg_id FROM seen_messages WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearSeen drops the user's seen-message history.
func (db *DB) ClearSeen(userID string) error {
	_, err := db.Exec(`DELETE FROM seen_messages WHERE user_id = ?`, userID)
	return err
}
