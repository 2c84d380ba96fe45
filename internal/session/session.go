// Package session binds one (current user, recipient) pair to a room and
// manages the conversation lifecycle between UI attach and detach.
package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/store"
)

// State represents a chat session lifecycle state.
type State string

const (
	Idle        State = "IDLE"
	Subscribing State = "SUBSCRIBING"
	Live        State = "LIVE"
	Closed      State = "CLOSED"
	Errored     State = "ERRORED"
)

// validTransitions defines allowed state transitions. Errored is terminal
// for the session: recovery is a fresh session, not an automatic retry loop.
var validTransitions = map[State][]State{
	Idle:        {Subscribing, Closed},
	Subscribing: {Live, Errored, Closed},
	Live:        {Errored, Closed},
	Errored:     {Closed},
	Closed:      {},
}

// Session is one open conversation. All store interaction goes through the
// chat service; the session only tracks lifecycle, the rendered snapshot,
// and scroll-follow position.
type Session struct {
	svc       *chat.Service
	user      *identity.User
	recipient string

	mu       sync.Mutex
	state    State
	roomKey  string
	messages []store.Message
	lastErr  error
	focused  bool
	scrollTo int

	unsub     func()
	closeOnce sync.Once

	onChange func([]store.Message)
	onError  func(error)
}

// New creates an idle session between the current user and a recipient.
func New(svc *chat.Service, user *identity.User, recipientID string) *Session {
	return &Session{
		svc:       svc,
		user:      user,
		recipient: recipientID,
		state:     Idle,
		focused:   true,
		scrollTo:  -1,
	}
}

// transitionLocked moves to a new state. Caller holds s.mu.
func (s *Session) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}

// Open derives the room key, ensures the room exists, and subscribes to its
// message log. onChange receives every ordered snapshot; onError fires if
// the subscription dies, after which the session is Errored and must be
// reopened by the user. Refused when no identity is present.
func (s *Session) Open(onChange func([]store.Message), onError func(error)) error {
	if err := identity.Require(s.user); err != nil {
		return err
	}

	key, err := s.svc.EnsureRoom(s.user.ID, s.recipient)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.transitionLocked(Subscribing); err != nil {
		s.mu.Unlock()
		return err
	}
	s.roomKey = key
	s.onChange = onChange
	s.onError = onError
	s.mu.Unlock()

	unsub := s.svc.Subscribe(key, s.handleSnapshot, s.handleError)
	s.mu.Lock()
	s.unsub = unsub
	closed := s.state == Closed
	s.mu.Unlock()
	if closed {
		// Close ran while the subscription was being set up; it found no
		// unsub to call, so release the subscription here.
		unsub()
	}
	return nil
}

func (s *Session) handleSnapshot(msgs []store.Message) {
	s.mu.Lock()
	// A late callback racing Close must not resurrect torn-down UI state.
	if s.state == Closed || s.state == Errored {
		s.mu.Unlock()
		return
	}
	if s.state == Subscribing {
		_ = s.transitionLocked(Live)
	}
	grew := len(msgs) > len(s.messages)
	s.messages = msgs
	if grew && s.focused {
		s.scrollTo = len(msgs) - 1
	}
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(msgs)
	}
}

func (s *Session) handleError(err error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	_ = s.transitionLocked(Errored)
	onError := s.onError
	s.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// Send appends a message to the room. Empty or whitespace-only input is
// rejected before the store is contacted. The caller may clear its input
// immediately; the message shows up through the subscription like any other.
func (s *Session) Send(body string) error {
	if strings.TrimSpace(body) == "" {
		return chat.ErrEmptyMessage
	}

	s.mu.Lock()
	state, key := s.state, s.roomKey
	s.mu.Unlock()

	if state != Live && state != Subscribing {
		return fmt.Errorf("cannot send while session is %s", state)
	}
	return s.svc.Append(key, s.user.ID, s.user.Name(), body)
}

// Purge deletes the room's message history. Partial failures propagate as
// *chat.PartialPurgeError so the UI can report an incomplete purge.
func (s *Session) Purge() (int, error) {
	s.mu.Lock()
	state, key := s.state, s.roomKey
	s.mu.Unlock()

	if state != Live && state != Subscribing {
		return 0, fmt.Errorf("cannot purge while session is %s", state)
	}
	return s.svc.PurgeRoom(key)
}

// Close tears the session down, unsubscribing exactly once. Safe to call
// multiple times and safe against callbacks racing the teardown.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		_ = s.transitionLocked(Closed)
		unsub := s.unsub
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
	})
}

// SetFocused marks whether this session is the active conversation. Only a
// focused session advances its scroll target when new messages arrive.
func (s *Session) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.mu.Unlock()
}

// ScrollTarget returns the index of the message the view should advance to,
// or -1 when no advance is pending.
func (s *Session) ScrollTarget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollTo
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Errored, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RoomKey returns the derived room key. Empty until Open succeeds.
func (s *Session) RoomKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomKey
}

// Recipient returns the other participant's user id.
func (s *Session) Recipient() string {
	return s.recipient
}

// Messages returns a copy of the current ordered snapshot.
func (s *Session) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
