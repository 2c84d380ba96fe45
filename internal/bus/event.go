package bus

import "time"

// Event kinds published by the chat service. Everything under the "chat."
// namespace carries the room key the change happened in.
const (
	NamespaceChat = "chat."

	KindMessagePosted = "chat.message"      // payload: store.Message
	KindRoomPurged    = "chat.purged"       // payload: chat.PurgeResult
	KindRoomCreated   = "chat.room_created" // payload: store.Room
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Room      string // room key for chat.* events, empty otherwise
	Timestamp time.Time
	Payload   any
}
