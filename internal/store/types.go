package store

// Room is a 1:1 chat room. The key is the canonical order-independent
// derivation from the two participant ids; User1ID sorts before User2ID.
// Purging messages keeps the room record as an empty shell.
type Room struct {
	Key       string
	User1ID   string
	User2ID   string
	CreatedAt int64
}

// HasParticipant reports whether the given user id is one of the room's two
// participants.
func (r *Room) HasParticipant(userID string) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// Message is one immutable entry in a room's log. ID and Timestamp are
// assigned by the store on append; client ordering is never trusted.
type Message struct {
	ID         string
	RoomKey    string
	SenderID   string
	SenderName string
	Body       string
	Timestamp  int64
}
