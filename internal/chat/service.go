// Package chat implements the durable 1:1 message log: idempotent room
// creation, store-ordered appends, snapshot subscriptions, and bulk purge.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studybuddy/buddychat/internal/bus"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/roomkey"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/zap"
)

const purgeBatchSize = 500

// ErrEmptyMessage is returned when an append body is empty after trimming.
// The store is never contacted for such a send.
var ErrEmptyMessage = errors.New("message body is empty")

// PartialPurgeError reports a purge that failed after deleting some
// messages. The condition is retryable; Deleted tells the caller how far it
// got so the UI can report an incomplete purge instead of claiming success.
type PartialPurgeError struct {
	RoomKey string
	Deleted int
	Err     error
}

func (e *PartialPurgeError) Error() string {
	return fmt.Sprintf("purge of room %s incomplete after %d deletions: %v", e.RoomKey, e.Deleted, e.Err)
}

func (e *PartialPurgeError) Unwrap() error { return e.Err }

// PurgeResult is the bus payload published after a completed purge.
type PurgeResult struct {
	RoomKey string
	Deleted int
}

// Service is the message store facade. All writes go through it so that
// every change is published on the bus exactly once.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a chat service over the given store and bus.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{db: db, bus: b, logger: logger}
}

// EnsureRoom derives the canonical room key for the pair and creates the
// room record if absent. Idempotent; safe for both participants to call
// concurrently on first contact. Returns the room key.
func (s *Service) EnsureRoom(userA, userB string) (string, error) {
	key, err := roomkey.Derive(userA, userB)
	if err != nil {
		return "", err
	}
	u1, u2 := userA, userB
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	created, err := s.db.EnsureRoom(key, u1, u2)
	if err != nil {
		return "", fmt.Errorf("ensure room: %w", err)
	}
	if created {
		room, err := s.db.GetRoom(key)
		if err != nil {
			return "", fmt.Errorf("read created room: %w", err)
		}
		s.bus.Publish(bus.Event{
			Kind:      bus.KindRoomCreated,
			Room:      key,
			Timestamp: time.Now(),
			Payload:   *room,
		})
		s.logger.Info("room created", zap.String("room", key))
	}
	return key, nil
}

// Room returns the room record for a key, or nil if it does not exist.
func (s *Service) Room(key string) (*store.Room, error) {
	return s.db.GetRoom(key)
}

// Append validates and writes one message to the room's log. The store
// assigns the id and timestamp; the sender observes its own message through
// the same subscription path as everyone else.
func (s *Service) Append(roomKey, senderID, senderName, body string) error {
	if senderID == "" {
		return identity.ErrNoIdentity
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if senderName == "" {
		senderName = "User"
	}

	m := store.Message{
		ID:         uuid.New().String(),
		RoomKey:    roomKey,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
	}
	if err := s.db.InsertMessage(&m); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessagePosted,
		Room:      roomKey,
		Timestamp: time.Now(),
		Payload:   m,
	})
	return nil
}

// Subscribe registers a listener that receives the full ordered message
// list for the room on every change, starting with the current snapshot.
// onChange and onErr are invoked from a single goroutine per subscription,
// so calls never interleave. A store error ends the subscription after
// onErr fires; recovery is a new Subscribe call.
//
// The returned unsubscribe function is idempotent and must be called on
// every exit path of the subscriber.
func (s *Service) Subscribe(roomKey string, onChange func([]store.Message), onErr func(error)) func() {
	ch, unsubBus := s.bus.SubscribeRoom(bus.NamespaceChat, roomKey, 64)
	done := make(chan struct{})

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			unsubBus()
			close(done)
		})
	}

	go func() {
		// Initial snapshot. The bus subscription is already live, so a
		// write racing this load shows up as a redundant snapshot, never
		// a missed one.
		msgs, err := s.db.ListMessages(roomKey)
		if err != nil {
			onErr(fmt.Errorf("load messages: %w", err))
			return
		}
		onChange(msgs)

		for {
			select {
			case evt := <-ch:
				if evt.Kind != bus.KindMessagePosted && evt.Kind != bus.KindRoomPurged {
					continue
				}
				msgs, err := s.db.ListMessages(roomKey)
				if err != nil {
					onErr(fmt.Errorf("load messages: %w", err))
					return
				}
				onChange(msgs)
			case <-done:
				return
			}
		}
	}()

	return unsub
}

// PurgeRoom deletes all messages in the room, keeping the room record.
// Deletion runs in batches; on failure a PartialPurgeError reports progress.
func (s *Service) PurgeRoom(roomKey string) (int, error) {
	deleted, err := s.db.PurgeRoom(roomKey, purgeBatchSize)
	if err != nil {
		return deleted, &PartialPurgeError{RoomKey: roomKey, Deleted: deleted, Err: err}
	}

	s.bus.Publish(bus.Event{
		Kind:      bus.KindRoomPurged,
		Room:      roomKey,
		Timestamp: time.Now(),
		Payload:   PurgeResult{RoomKey: roomKey, Deleted: deleted},
	})
	s.logger.Info("room purged", zap.String("room", roomKey), zap.Int("deleted", deleted))
	return deleted, nil
}

// History returns a page of a room's log using keyset pagination by
// store timestamp, newest first. Initial page loads go through here; live
// updates go through Subscribe.
func (s *Service) History(roomKey string, beforeTs int64, limit int) ([]store.Message, error) {
	return s.db.ListMessagesPage(roomKey, beforeTs, limit)
}

// RoomsFor returns all rooms the user participates in.
func (s *Service) RoomsFor(userID string) ([]store.Room, error) {
	if userID == "" {
		return nil, identity.ErrNoIdentity
	}
	return s.db.RoomsFor(userID)
}

// WatchRooms invokes onRoom for every room created with the user as a
// participant after the call. Together with RoomsFor it gives a live view
// of room membership: the fan-out extends itself to first-contact rooms
// without a restart. The returned unsubscribe function is idempotent.
func (s *Service) WatchRooms(userID string, onRoom func(store.Room)) (func(), error) {
	if userID == "" {
		return nil, identity.ErrNoIdentity
	}

	ch, unsubBus := s.bus.Subscribe(bus.KindRoomCreated, 16)
	done := make(chan struct{})

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			unsubBus()
			close(done)
		})
	}

	go func() {
		for {
			select {
			case evt := <-ch:
				room, ok := evt.Payload.(store.Room)
				if !ok || !room.HasParticipant(userID) {
					continue
				}
				onRoom(room)
			case <-done:
				return
			}
		}
	}()

	return unsub, nil
}
