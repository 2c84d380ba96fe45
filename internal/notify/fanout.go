// Package notify watches every room the current user participates in and
// raises at most one transient alert per incoming message.
package notify

import (
	"sync"
	"time"

	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/config"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/zap"
)

// Notification is the UI-facing alert payload: sender plus a truncated
// preview, sized for a toast.
type Notification struct {
	RoomKey    string `json:"room_key"`
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
	DurationMS int    `json:"duration_ms"`
}

// FanOut subscribes to all of one user's rooms and feeds a single handler.
// A message triggers the handler iff it is from someone else, landed after
// the fan-out activated, and its id has not been surfaced before.
type FanOut struct {
	svc     *chat.Service
	db      *store.DB
	cfg     config.NotifyConfig
	user    *identity.User
	handler func(Notification)
	logger  *zap.Logger

	mu          sync.Mutex
	started     bool
	activatedAt int64
	seen        map[string]struct{}
	roomUnsubs  map[string]func()
	watchUnsub  func()
}

// NewFanOut creates a fan-out for one user. The handler is invoked from
// subscription goroutines; insertion into the de-dup set is serialized, so
// it fires at most once per message id for the life of the fan-out.
func NewFanOut(svc *chat.Service, db *store.DB, cfg config.NotifyConfig, user *identity.User, handler func(Notification), logger *zap.Logger) *FanOut {
	return &FanOut{
		svc:     svc,
		db:      db,
		cfg:     cfg,
		user:    user,
		handler: handler,
		logger:  logger,
	}
}

// Start activates the fan-out: it subscribes to every room the user is in
// and extends itself to rooms created later, without a restart. Messages
// older than the activation time never alert, so backlog loaded on startup
// stays silent.
func (f *FanOut) Start() error {
	if err := identity.Require(f.user); err != nil {
		return err
	}

	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.activatedAt = time.Now().UnixMilli()
	f.seen = make(map[string]struct{})
	f.roomUnsubs = make(map[string]func())
	f.mu.Unlock()

	if f.cfg.PersistSeen {
		ids, err := f.db.LoadSeen(f.user.ID)
		if err != nil {
			f.logger.Warn("failed to load seen messages", zap.Error(err))
		}
		f.mu.Lock()
		if f.started {
			for _, id := range ids {
				f.seen[id] = struct{}{}
			}
		}
		f.mu.Unlock()
	}

	// The membership watch goes live before the one-shot room listing, so a
	// room created in between shows up as an overlap (watchRoom is
	// idempotent per key), never as a gap.
	watchUnsub, err := f.svc.WatchRooms(f.user.ID, func(r store.Room) {
		f.watchRoom(r.Key)
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	if !f.started {
		// Stop ran while the watch was being set up.
		f.mu.Unlock()
		watchUnsub()
		return nil
	}
	f.watchUnsub = watchUnsub
	f.mu.Unlock()

	rooms, err := f.svc.RoomsFor(f.user.ID)
	if err != nil {
		f.Stop()
		return err
	}
	for _, r := range rooms {
		f.watchRoom(r.Key)
	}

	f.logger.Info("notification fan-out started",
		zap.String("user", f.user.ID),
		zap.Int("rooms", len(rooms)))
	return nil
}

// watchRoom adds a store subscription for one room. Idempotent per key, so
// overlapping membership events cannot double-subscribe a room. A call
// landing after Stop is a no-op: membership callbacks can still be in flight
// when the fan-out is torn down.
func (f *FanOut) watchRoom(roomKey string) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	if _, ok := f.roomUnsubs[roomKey]; ok {
		f.mu.Unlock()
		return
	}
	// Reserve the slot before subscribing so a racing call backs off.
	f.roomUnsubs[roomKey] = func() {}
	f.mu.Unlock()

	unsub := f.svc.Subscribe(roomKey,
		func(msgs []store.Message) { f.scan(roomKey, msgs) },
		func(err error) {
			// A dead room subscription degrades alerts for that room only.
			f.logger.Warn("fan-out subscription failed",
				zap.String("room", roomKey), zap.Error(err))
		})

	f.mu.Lock()
	if !f.started {
		// Stop won the race and already dropped the reserved slot.
		f.mu.Unlock()
		unsub()
		return
	}
	f.roomUnsubs[roomKey] = unsub
	f.mu.Unlock()
}

// scan walks a room snapshot and alerts for each message that passes the
// gates. Snapshots are cumulative, so most entries are already seen; the
// de-dup set makes re-scans (and overlapping subscriptions) idempotent.
func (f *FanOut) scan(roomKey string, msgs []store.Message) {
	for _, m := range msgs {
		if m.SenderID == f.user.ID {
			continue
		}
		f.mu.Lock()
		if !f.started || m.Timestamp <= f.activatedAt {
			f.mu.Unlock()
			continue
		}
		if _, ok := f.seen[m.ID]; ok {
			f.mu.Unlock()
			continue
		}
		f.seen[m.ID] = struct{}{}
		f.mu.Unlock()

		if f.cfg.PersistSeen {
			if err := f.db.MarkSeen(f.user.ID, m.ID); err != nil {
				f.logger.Warn("failed to persist seen message", zap.Error(err))
			}
		}

		f.handler(Notification{
			RoomKey:    roomKey,
			MessageID:  m.ID,
			SenderName: m.SenderName,
			Preview:    truncate(m.Body, f.cfg.PreviewLength),
			DurationMS: f.cfg.ToastDurationMS,
		})
	}
}

// Stop tears down all room subscriptions and the membership watch. The
// in-memory de-dup set is dropped; the persisted mirror is intentionally
// retained so a restart does not replay old alerts.
func (f *FanOut) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	watchUnsub := f.watchUnsub
	unsubs := f.roomUnsubs
	f.watchUnsub = nil
	f.roomUnsubs = nil
	f.seen = nil
	f.mu.Unlock()

	if watchUnsub != nil {
		watchUnsub()
	}
	for _, unsub := range unsubs {
		unsub()
	}
}

// truncate cuts s to at most maxRunes runes. Previews are user text, so the
// cut must not split a multi-byte character.
func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
