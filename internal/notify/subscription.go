package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventName identifies an outbound SSE event as named in the external
// contract: {NewChat, NewMessage, UserJoinedChat, UserLeftChat,
// DuplicateMessageAttempted, TypingStarted, ...}.
type EventName string

const (
	EventNewChat                   EventName = "NewChat"
	EventNewMessage                EventName = "NewMessage"
	EventMessageReceived           EventName = "MessageReceived"
	EventMessageUpdated            EventName = "MessageUpdated"
	EventMessageDeleted            EventName = "MessageDeleted"
	EventUserJoinedChat            EventName = "UserJoinedChat"
	EventUserLeftChat              EventName = "UserLeftChat"
	EventDuplicateMessageAttempted EventName = "DuplicateMessageAttempted"
	EventTypingStarted             EventName = "TypingStarted"
	EventTypingStopped             EventName = "TypingStopped"
	EventMessageRead               EventName = "MessageRead"
	EventUserPresence              EventName = "UserPresence"
)

// Frame is a single named SSE event with a JSON-encodable payload.
type Frame struct {
	Event EventName
	Data  any
}

// Subscription is one user's live SSE connection: a bounded channel of
// outbound frames. Delivery is best-effort; there is no per-client ack, and a
// subscriber that falls behind the buffer is dropped rather than blocking
// the publisher.
type Subscription struct {
	userID int64
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func newSubscription(userID int64, buffer int, logger zerolog.Logger) *Subscription {
	return &Subscription{
		userID: userID,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
		log:    logger,
	}
}

// Frames returns the channel an HTTP handler should range over to stream SSE
// frames to the client.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// Done is closed when the subscription is no longer live, either because the
// client disconnected or because it was displaced by a reconnect.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// UserID returns the subscription's owning user.
func (s *Subscription) UserID() int64 {
	return s.userID
}

func (s *Subscription) enqueue(frame Frame) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.frames <- frame:
	case <-s.done:
	default:
		s.log.Warn().Int64("user_id", s.userID).Msg("SSE buffer full, dropping subscriber")
		s.close()
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}
