package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/eventpub"
)

func newTestRouter() (*Router, *Hub, *MembershipProjector, *PresenceStore) {
	hub := NewHub(8, zerolog.Nop())
	membership := NewMembershipProjector()
	presence := NewPresenceStore()
	return NewRouter(hub, membership, presence, zerolog.Nop()), hub, membership, presence
}

func envelope(t *testing.T, kind eventpub.Kind, payload any) eventpub.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return eventpub.Envelope{Version: eventpub.EnvelopeVersion, Kind: kind, Payload: data, OccurredAt: time.Now()}
}

func expectFrame(t *testing.T, sub *Subscription, want EventName) Frame {
	t.Helper()
	select {
	case frame := <-sub.Frames():
		if frame.Event != want {
			t.Fatalf("got event %q, want %q", frame.Event, want)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q frame", want)
		return Frame{}
	}
}

func expectNoFrame(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case frame := <-sub.Frames():
		t.Fatalf("expected no frame, got %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterMessageCreatedFansOutToMembers(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindMessageCreated, eventpub.MessageEventData{ChatID: 7, SenderID: 1, Content: "hi"})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventNewMessage)
	expectFrame(t, sub2, EventNewMessage)
}

func TestRouterMessageReceivedConfirmsExplicitRecipients(t *testing.T) {
	t.Parallel()
	router, hub, _, _ := newTestRouter()
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)
	sub3 := hub.Register(3)

	env := envelope(t, eventpub.KindMessageReceived, eventpub.MessageReceivedData{
		Message:    eventpub.MessageEventData{ChatID: 7, SenderID: 1, Content: "hi"},
		Recipients: []int64{1, 2},
	})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventMessageReceived)
	expectFrame(t, sub2, EventMessageReceived)
	expectNoFrame(t, sub3)
}

func TestRouterChatMemberJoinedUpdatesProjectionAndFansOut(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindChatMemberJoined, eventpub.ChatEventData{ChatID: 7, MemberID: 2, ActorID: 1})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventUserJoinedChat)
	expectFrame(t, sub2, EventUserJoinedChat)

	got := sortedInt64(membership.Members(7))
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Members(7) = %v, want [1 2]", got)
	}
}

func TestRouterChatMemberLeftFansOutThenRemoves(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindChatMemberLeft, eventpub.ChatEventData{ChatID: 7, MemberID: 2, ActorID: 2})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventUserLeftChat)
	expectFrame(t, sub2, EventUserLeftChat)

	if got := membership.Members(7); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Members(7) = %v, want [1]", got)
	}
}

func TestRouterDuplicateMessageAttemptedOnlyNotifiesSender(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindDuplicateMessageAttempted, eventpub.DuplicateMessageAttemptedData{ChatID: 7, SenderID: 1, MessageID: 99})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventDuplicateMessageAttempted)
	expectNoFrame(t, sub2)
}

func TestRouterTypingExcludesTyper(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindTypingStarted, eventpub.TypingData{ChatID: 7, UserID: 1})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectNoFrame(t, sub1)
	expectFrame(t, sub2, EventTypingStarted)
}

func TestRouterMessageReadExcludesReader(t *testing.T) {
	t.Parallel()
	router, hub, membership, _ := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	env := envelope(t, eventpub.KindMessageRead, eventpub.MessageReadData{ChatID: 7, UserID: 2, MessageID: 5})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	expectFrame(t, sub1, EventMessageRead)
	expectNoFrame(t, sub2)
}

func TestRouterUserPresenceUpdatesStoreAndBroadcastsToSharers(t *testing.T) {
	t.Parallel()
	router, hub, membership, presence := newTestRouter()
	membership.Join(7, 1)
	membership.Join(7, 2)
	membership.Join(8, 3)
	sub2 := hub.Register(2)
	sub3 := hub.Register(3)

	env := envelope(t, eventpub.KindUserPresence, eventpub.UserPresenceData{UserID: 1, Status: "online"})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	status, ok := presence.Get(1)
	if !ok || status != "online" {
		t.Fatalf("presence.Get(1) = (%q, %v), want (\"online\", true)", status, ok)
	}

	expectFrame(t, sub2, EventUserPresence)
	expectNoFrame(t, sub3)
}

func TestRouterIgnoresUnhandledKind(t *testing.T) {
	t.Parallel()
	router, _, _, _ := newTestRouter()

	env := envelope(t, eventpub.KindSearchIndexMessage, eventpub.SearchIndexMessageData{})
	if err := router.Handle(env); err != nil {
		t.Fatalf("Handle() error = %v, want nil for an ignored kind", err)
	}
}
