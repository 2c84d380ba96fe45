package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessagePosted, Room: "alice-bob", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessagePosted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessagePosted)
		}
		if evt.Room != "alice-bob" {
			t.Errorf("got room %q, want alice-bob", evt.Room)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.room", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessagePosted})
	b.Publish(Event{Kind: KindRoomCreated})

	select {
	case evt := <-ch:
		if evt.Kind != KindRoomCreated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindRoomCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestSubscribeRoomFiltersOtherRooms(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeRoom(NamespaceChat, "alice-bob", 1)
	defer unsub()

	// Traffic in other rooms must not reach, let alone fill, this
	// subscriber's one-slot buffer.
	for i := 0; i < 10; i++ {
		b.Publish(Event{Kind: KindMessagePosted, Room: "bob-carol"})
	}
	b.Publish(Event{Kind: KindMessagePosted, Room: "alice-bob"})

	select {
	case evt := <-ch:
		if evt.Room != "alice-bob" {
			t.Errorf("got room %q, want alice-bob", evt.Room)
		}
	case <-time.After(time.Second):
		t.Fatal("own-room event was not delivered")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: other rooms' events were filtered, not queued.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()
	// Unsubscribe is idempotent.
	unsub()

	b.Publish(Event{Kind: KindMessagePosted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindMessagePosted, Room: "one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindMessagePosted, Room: "two"})

	evt := <-ch
	if evt.Room != "one" {
		t.Errorf("got room %q, want one", evt.Room)
	}
}
