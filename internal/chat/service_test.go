package chat

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studybuddy/buddychat/internal/bus"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/roomkey"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, bus.New(), zap.NewNop())
}

// waitSnapshot receives the next snapshot from ch or fails the test.
func waitSnapshot(t *testing.T, ch <-chan []store.Message) []store.Message {
	t.Helper()
	select {
	case msgs := <-ch:
		return msgs
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return nil
	}
}

func TestEnsureRoomIsIdempotentAndCommutative(t *testing.T) {
	svc := newTestService(t)

	key1, err := svc.EnsureRoom("bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	key2, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if key1 != key2 || key1 != "alice-bob" {
		t.Errorf("keys = %q, %q; want both alice-bob", key1, key2)
	}
}

func TestEnsureRoomRejectsSelfChat(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.EnsureRoom("alice", "alice"); !errors.Is(err, roomkey.ErrSameUser) {
		t.Errorf("error = %v, want ErrSameUser", err)
	}
}

func TestAppendValidation(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Append(key, "", "Alice", "hi"); !errors.Is(err, identity.ErrNoIdentity) {
		t.Errorf("append without sender: error = %v, want ErrNoIdentity", err)
	}
	if err := svc.Append(key, "alice", "Alice", "   \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("whitespace-only body: error = %v, want ErrEmptyMessage", err)
	}
}

func TestAppendTrimsBodyAndDefaultsSenderName(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Append(key, "alice", "", "  hi there  "); err != nil {
		t.Fatal(err)
	}

	snapshots := make(chan []store.Message, 4)
	unsub := svc.Subscribe(key, func(msgs []store.Message) { snapshots <- msgs }, func(err error) { t.Error(err) })
	defer unsub()

	msgs := waitSnapshot(t, snapshots)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body != "hi there" {
		t.Errorf("body = %q, want trimmed %q", msgs[0].Body, "hi there")
	}
	if msgs[0].SenderName != "User" {
		t.Errorf("sender name = %q, want fallback User", msgs[0].SenderName)
	}
	if msgs[0].ID == "" || msgs[0].Timestamp == 0 {
		t.Error("store must assign id and timestamp")
	}
}

func TestSubscribeDeliversOrderedSnapshots(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Append(key, "alice", "Alice", "hi"); err != nil {
		t.Fatal(err)
	}

	snapshots := make(chan []store.Message, 8)
	unsub := svc.Subscribe(key, func(msgs []store.Message) { snapshots <- msgs }, func(err error) { t.Error(err) })
	defer unsub()

	// Initial snapshot contains the backlog.
	msgs := waitSnapshot(t, snapshots)
	if len(msgs) != 1 || msgs[0].Body != "hi" {
		t.Fatalf("initial snapshot = %v, want [hi]", msgs)
	}

	if err := svc.Append(key, "bob", "Bob", "hello"); err != nil {
		t.Fatal(err)
	}

	// Next snapshot is the full list in store-timestamp order.
	msgs = waitSnapshot(t, snapshots)
	for len(msgs) < 2 {
		msgs = waitSnapshot(t, snapshots)
	}
	if msgs[0].Body != "hi" || msgs[1].Body != "hello" {
		t.Errorf("snapshot = [%s, %s], want [hi, hello]", msgs[0].Body, msgs[1].Body)
	}
}

func TestConcurrentAppendsTotalOrder(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		go func(sender string) {
			defer wg.Done()
			if err := svc.Append(key, sender, sender, "msg"); err != nil {
				t.Error(err)
			}
		}(sender)
	}
	wg.Wait()

	snapshots := make(chan []store.Message, 4)
	unsub := svc.Subscribe(key, func(msgs []store.Message) { snapshots <- msgs }, func(err error) { t.Error(err) })
	defer unsub()

	msgs := waitSnapshot(t, snapshots)
	if len(msgs) != n {
		t.Fatalf("got %d messages, want %d (no gaps, no duplicates)", len(msgs), n)
	}
	seen := make(map[string]bool, n)
	for i, m := range msgs {
		if seen[m.ID] {
			t.Errorf("duplicate message id %s", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && msgs[i].Timestamp <= msgs[i-1].Timestamp {
			t.Errorf("msgs[%d] timestamp %d not after msgs[%d] %d", i, msgs[i].Timestamp, i-1, msgs[i-1].Timestamp)
		}
	}
}

func TestMultipleSubscribersConverge(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	ch1 := make(chan []store.Message, 8)
	ch2 := make(chan []store.Message, 8)
	unsub1 := svc.Subscribe(key, func(m []store.Message) { ch1 <- m }, func(err error) { t.Error(err) })
	defer unsub1()
	unsub2 := svc.Subscribe(key, func(m []store.Message) { ch2 <- m }, func(err error) { t.Error(err) })
	defer unsub2()

	waitSnapshot(t, ch1)
	waitSnapshot(t, ch2)

	if err := svc.Append(key, "alice", "Alice", "hi"); err != nil {
		t.Fatal(err)
	}

	m1 := waitSnapshot(t, ch1)
	m2 := waitSnapshot(t, ch2)
	if len(m1) != 1 || len(m2) != 1 || m1[0].ID != m2[0].ID {
		t.Errorf("subscribers diverged: %v vs %v", m1, m2)
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	snapshots := make(chan []store.Message, 8)
	unsub := svc.Subscribe(key, func(m []store.Message) { snapshots <- m }, func(err error) { t.Error(err) })
	waitSnapshot(t, snapshots)

	unsub()
	// A late double-unsubscribe must be harmless.
	unsub()

	if err := svc.Append(key, "alice", "Alice", "hi"); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-snapshots:
		t.Errorf("received snapshot after unsubscribe: %v", m)
	case <-time.After(100 * time.Millisecond):
		// Expected.
	}
}

func TestPurgeThenReadYieldsEmpty(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := svc.Append(key, "alice", "Alice", "x"); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := svc.PurgeRoom(key)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	snapshots := make(chan []store.Message, 4)
	unsub := svc.Subscribe(key, func(m []store.Message) { snapshots <- m }, func(err error) { t.Error(err) })
	defer unsub()

	if msgs := waitSnapshot(t, snapshots); len(msgs) != 0 {
		t.Errorf("got %d messages after purge, want 0", len(msgs))
	}

	// A new append shows up again.
	if err := svc.Append(key, "bob", "Bob", "fresh start"); err != nil {
		t.Fatal(err)
	}
	msgs := waitSnapshot(t, snapshots)
	if len(msgs) != 1 || msgs[0].Body != "fresh start" {
		t.Errorf("snapshot after re-append = %v, want [fresh start]", msgs)
	}
}

func TestPurgeNotifiesSubscribers(t *testing.T) {
	svc := newTestService(t)
	key, err := svc.EnsureRoom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Append(key, "alice", "Alice", "x"); err != nil {
		t.Fatal(err)
	}

	snapshots := make(chan []store.Message, 8)
	unsub := svc.Subscribe(key, func(m []store.Message) { snapshots <- m }, func(err error) { t.Error(err) })
	defer unsub()

	if msgs := waitSnapshot(t, snapshots); len(msgs) != 1 {
		t.Fatalf("initial snapshot has %d messages, want 1", len(msgs))
	}

	if _, err := svc.PurgeRoom(key); err != nil {
		t.Fatal(err)
	}

	if msgs := waitSnapshot(t, snapshots); len(msgs) != 0 {
		t.Errorf("snapshot after purge has %d messages, want 0", len(msgs))
	}
}

func TestWatchRoomsSeesNewRooms(t *testing.T) {
	svc := newTestService(t)

	rooms := make(chan store.Room, 4)
	unsub, err := svc.WatchRooms("alice", func(r store.Room) { rooms <- r })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	// A room alice is not part of must not be delivered.
	if _, err := svc.EnsureRoom("bob", "carol"); err != nil {
		t.Fatal(err)
	}
	// First contact with alice.
	if _, err := svc.EnsureRoom("bob", "alice"); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-rooms:
		if r.Key != "alice-bob" {
			t.Errorf("room = %s, want alice-bob", r.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for room event")
	}

	select {
	case r := <-rooms:
		t.Errorf("unexpected extra room event: %v", r)
	case <-time.After(100 * time.Millisecond):
		// Expected.
	}
}

func TestRoomsForRequiresIdentity(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.RoomsFor(""); !errors.Is(err, identity.ErrNoIdentity) {
		t.Errorf("error = %v, want ErrNoIdentity", err)
	}
	if _, err := svc.WatchRooms("", nil); !errors.Is(err, identity.ErrNoIdentity) {
		t.Errorf("error = %v, want ErrNoIdentity", err)
	}
}
