package store

import (
	"database/sql"
	"time"
)

// EnsureRoom creates the room record if absent. The insert is conflict-free,
// so two participants racing on first contact cannot duplicate the room.
// Returns true when this call created the room.
func (db *DB) EnsureRoom(key, user1ID, user2ID string) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO rooms (key, user1_id, user2_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, user1ID, user2ID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRoom returns a single room by key, or nil if it does not exist.
func (db *DB) GetRoom(key string) (*Room, error) {
	var r Room
	err := db.QueryRow(`
		SELECT key, user1_id, user2_id, created_at
		FROM rooms WHERE key = ?`, key).
		Scan(&r.Key, &r.User1ID, &r.User2ID, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RoomsFor returns all rooms the user participates in, oldest first.
func (db *DB) RoomsFor(userID string) ([]Room, error) {
	rows, err := db.Query(`
		SELECT key, user1_id, user2_id, created_at
		FROM rooms
		WHERE user1_id = ? OR user2_id = ?
		ORDER BY created_at ASC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Key, &r.User1ID, &r.User2ID, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}
