package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHubRegisterAndSend(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())

	sub := hub.Register(42)
	hub.Send(42, Frame{Event: EventNewMessage, Data: "hi"})

	select {
	case frame := <-sub.Frames():
		if frame.Event != EventNewMessage || frame.Data != "hi" {
			t.Fatalf("got %+v, want NewMessage/hi", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestHubSendToUnregisteredUserIsNoop(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())
	hub.Send(99, Frame{Event: EventNewMessage, Data: "hi"})
}

func TestHubRegisterDisplacesExisting(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())

	first := hub.Register(42)
	second := hub.Register(42)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("expected first subscription to be closed by reconnect")
	}

	if hub.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", hub.Count())
	}

	hub.Send(42, Frame{Event: EventNewMessage, Data: "hi"})
	select {
	case <-second.Frames():
	case <-time.After(time.Second):
		t.Fatal("expected second subscription to receive the frame")
	}
}

func TestHubUnregisterDoesNotClobberReplacement(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())

	first := hub.Register(42)
	second := hub.Register(42)

	hub.Unregister(first)

	if hub.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after unregistering a displaced subscription", hub.Count())
	}

	hub.Send(42, Frame{Event: EventNewMessage, Data: "hi"})
	select {
	case <-second.Frames():
	case <-time.After(time.Second):
		t.Fatal("expected the current subscription to still receive frames")
	}
}

func TestHubOnlineUserIDs(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())
	hub.Register(1)
	hub.Register(2)

	ids := hub.OnlineUserIDs()
	if len(ids) != 2 {
		t.Fatalf("OnlineUserIDs() = %v, want 2 entries", ids)
	}
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, zerolog.Nop())
	a := hub.Register(1)
	b := hub.Register(2)

	hub.Broadcast([]int64{1, 2}, Frame{Event: EventNewMessage, Data: "hi"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Frames():
		case <-time.After(time.Second):
			t.Fatalf("user %d did not receive broadcast frame", sub.UserID())
		}
	}
}

func TestSubscriptionDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Register(42)

	hub.Send(42, Frame{Event: EventNewMessage, Data: "one"})
	hub.Send(42, Frame{Event: EventNewMessage, Data: "two"})

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be dropped when its buffer overflows")
	}
}
