package notify

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/eventpub"
)

// Router applies the event-translation rules of the notify server: each
// inbound envelope becomes zero or more outbound SSE frames fanned out
// through the Hub, using the MembershipProjector to resolve "chat members"
// and the PresenceStore to track explicit status.
type Router struct {
	hub        *Hub
	membership *MembershipProjector
	presence   *PresenceStore
	log        zerolog.Logger
}

// NewRouter creates a Router wired to hub, membership, and presence.
func NewRouter(hub *Hub, membership *MembershipProjector, presence *PresenceStore, logger zerolog.Logger) *Router {
	return &Router{
		hub:        hub,
		membership: membership,
		presence:   presence,
		log:        logger.With().Str("component", "notify.router").Logger(),
	}
}

// Handle translates a single envelope into outbound fan-out, per the rules
// in the external contract:
//
//	domain MessageCreated        -> NewMessage to chat_members
//	realtime MessageReceived     -> MessageReceived to explicit recipients
//	realtime TypingStarted/Stopped -> fan-out to chat members except the typer
//	realtime MessageRead         -> fan-out to chat members except the reader
//	realtime UserPresence        -> update status, broadcast to users sharing a chat
//
// Unrecognized kinds (e.g. search-index events, which the notify server does
// not subscribe to) are ignored rather than treated as an error.
func (r *Router) Handle(env eventpub.Envelope) error {
	switch env.Kind {
	case eventpub.KindMessageCreated:
		return r.handleMessageCreated(env)
	case eventpub.KindMessageReceived:
		return r.handleMessageReceived(env)
	case eventpub.KindMessageUpdated:
		return r.handleMessageUpdated(env)
	case eventpub.KindMessageDeleted:
		return r.handleMessageDeleted(env)
	case eventpub.KindChatMemberJoined:
		return r.handleChatMemberJoined(env)
	case eventpub.KindChatMemberLeft:
		return r.handleChatMemberLeft(env)
	case eventpub.KindDuplicateMessageAttempted:
		return r.handleDuplicateMessageAttempted(env)
	case eventpub.KindMessageRead:
		return r.handleMessageRead(env)
	case eventpub.KindTypingStarted:
		return r.handleTyping(env, EventTypingStarted)
	case eventpub.KindTypingStopped:
		return r.handleTyping(env, EventTypingStopped)
	case eventpub.KindUserPresence:
		return r.handleUserPresence(env)
	default:
		r.log.Debug().Str("kind", string(env.Kind)).Msg("ignoring envelope kind not consumed by notify server")
		return nil
	}
}

func unmarshal[T any](payload []byte) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

func (r *Router) handleMessageCreated(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.MessageEventData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.created payload: %w", err)
	}
	members := r.membership.Members(data.ChatID)
	r.hub.Broadcast(members, Frame{Event: EventNewMessage, Data: data})
	return nil
}

func (r *Router) handleMessageReceived(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.MessageReceivedData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.received payload: %w", err)
	}
	r.hub.Broadcast(data.Recipients, Frame{Event: EventMessageReceived, Data: data})
	return nil
}

func (r *Router) handleMessageUpdated(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.MessageEventData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.updated payload: %w", err)
	}
	members := r.membership.Members(data.ChatID)
	r.hub.Broadcast(members, Frame{Event: EventMessageUpdated, Data: data})
	return nil
}

func (r *Router) handleMessageDeleted(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.MessageDeletedData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.deleted payload: %w", err)
	}
	members := r.membership.Members(data.ChatID)
	r.hub.Broadcast(members, Frame{Event: EventMessageDeleted, Data: data})
	return nil
}

func (r *Router) handleChatMemberJoined(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.ChatEventData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode chat.member_joined payload: %w", err)
	}
	r.membership.Join(data.ChatID, data.MemberID)
	members := r.membership.Members(data.ChatID)
	r.hub.Broadcast(members, Frame{Event: EventUserJoinedChat, Data: data})
	return nil
}

func (r *Router) handleChatMemberLeft(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.ChatEventData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode chat.member_left payload: %w", err)
	}
	members := r.membership.Members(data.ChatID)
	r.membership.Leave(data.ChatID, data.MemberID)
	r.hub.Broadcast(members, Frame{Event: EventUserLeftChat, Data: data})
	return nil
}

func (r *Router) handleDuplicateMessageAttempted(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.DuplicateMessageAttemptedData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.duplicate_attempted payload: %w", err)
	}
	r.hub.Send(data.SenderID, Frame{Event: EventDuplicateMessageAttempted, Data: data})
	return nil
}

func (r *Router) handleMessageRead(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.MessageReadData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode message.read payload: %w", err)
	}
	recipients := r.membership.MembersExcept(data.ChatID, data.UserID)
	r.hub.Broadcast(recipients, Frame{Event: EventMessageRead, Data: data})
	return nil
}

func (r *Router) handleTyping(env eventpub.Envelope, event EventName) error {
	data, err := unmarshal[eventpub.TypingData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode typing payload: %w", err)
	}
	recipients := r.membership.MembersExcept(data.ChatID, data.UserID)
	r.hub.Broadcast(recipients, Frame{Event: event, Data: data})
	return nil
}

func (r *Router) handleUserPresence(env eventpub.Envelope) error {
	data, err := unmarshal[eventpub.UserPresenceData](env.Payload)
	if err != nil {
		return fmt.Errorf("decode user.presence payload: %w", err)
	}
	r.presence.Set(data.UserID, data.Status)
	recipients := r.membership.UsersSharingChatsWith(data.UserID)
	r.hub.Broadcast(recipients, Frame{Event: EventUserPresence, Data: data})
	return nil
}
