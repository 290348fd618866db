package eventpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/dispatcher"
)

// SignatureHeader is the transport header an event signature travels in
// when a Publisher is configured for header-mode signing.
const SignatureHeader = "X-Event-Signature"

// durableDispatcher and realtimeDispatcher are the two publish primitives a
// Publisher needs from the dispatcher package. Expressed as an interface so
// tests can substitute a lighter fake than a full *dispatcher.Dispatcher.
type durableDispatcher interface {
	PublishDurable(ctx context.Context, subject string, payload []byte) error
	PublishDurableWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error
}

type realtimeDispatcher interface {
	PublishRealtime(subject string, payload []byte)
}

// Dispatcher is the combined capability set Publisher depends on; satisfied
// by *dispatcher.Dispatcher.
type Dispatcher interface {
	durableDispatcher
	realtimeDispatcher
}

var _ Dispatcher = (*dispatcher.Dispatcher)(nil)

// Publisher exposes one typed helper per event kind, each of which builds a
// versioned envelope, optionally signs it, and hands it to the dispatcher.
type Publisher struct {
	transport  Dispatcher
	cfg        *config.Config
	log        zerolog.Logger
	embedInSig bool
}

// NewPublisher creates a Publisher. By default signatures (when configured)
// travel in the X-Event-Signature transport header; call EmbedSignature to
// switch a Publisher to embed them in the envelope's sig field instead.
func NewPublisher(transport Dispatcher, cfg *config.Config, logger zerolog.Logger) *Publisher {
	return &Publisher{
		transport: transport,
		cfg:       cfg,
		log:       logger.With().Str("component", "eventpub").Logger(),
	}
}

// EmbedSignature switches the Publisher to embed the signature in the
// envelope's sig field rather than a transport header.
func (p *Publisher) EmbedSignature() *Publisher {
	p.embedInSig = true
	return p
}

func (p *Publisher) buildEnvelope(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return Envelope{
		Version:    EnvelopeVersion,
		Kind:       kind,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

func (p *Publisher) publishDurable(ctx context.Context, subject string, kind Kind, payload any) error {
	env, err := p.buildEnvelope(kind, payload)
	if err != nil {
		return err
	}

	if !p.cfg.EventSigningConfigured() {
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		return p.transport.PublishDurable(ctx, subject, body)
	}

	sig, err := Sign(p.cfg.EventSigningSecret, env.Payload)
	if err != nil {
		return fmt.Errorf("sign event payload: %w", err)
	}

	headers := map[string]string{}
	if p.embedInSig {
		env.Sig = sig
	} else {
		headers[SignatureHeader] = sig
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.transport.PublishDurableWithHeaders(ctx, subject, headers, body)
}

func (p *Publisher) publishRealtime(subject string, kind Kind, payload any) {
	env, err := p.buildEnvelope(kind, payload)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to build realtime envelope")
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal realtime envelope")
		return
	}
	p.transport.PublishRealtime(subject, body)
}

// MessageCreated publishes the durable domain + search-index events for a
// newly created message, and the realtime fan-out/confirmation event.
func (p *Publisher) MessageCreated(ctx context.Context, data MessageEventData, recipients []int64) error {
	data.Operation = OperationCreate

	if err := p.publishDurable(ctx, SubjectDomainMessage, KindMessageCreated, data); err != nil {
		return err
	}
	if err := p.publishDurable(ctx, SubjectSearchIndexMessage, KindSearchIndexMessage, SearchIndexMessageData{
		Operation: OperationCreate,
		Message:   data,
		ChatInfo: SearchChatContext{
			ChatID: data.ChatID, ChatName: data.ChatName, WorkspaceID: data.WorkspaceID,
		},
	}); err != nil {
		return err
	}

	p.publishRealtime(SubjectRealtimeChat(data.ChatID), KindMessageReceived, MessageReceivedData{
		Message: data, Recipients: recipients,
	})
	return nil
}

// MessageUpdated publishes the durable domain event for an edited message.
func (p *Publisher) MessageUpdated(ctx context.Context, data MessageEventData) error {
	data.Operation = OperationUpdate
	return p.publishDurable(ctx, SubjectDomainMessage, KindMessageUpdated, data)
}

// MessageDeleted publishes the durable domain + search-index-delete events,
// and the realtime deletion notice to the chat.
func (p *Publisher) MessageDeleted(ctx context.Context, messageID, chatID int64) error {
	if err := p.publishDurable(ctx, SubjectDomainMessage, KindMessageDeleted, MessageEventData{
		Operation: OperationDelete, MessageID: messageID, ChatID: chatID,
	}); err != nil {
		return err
	}
	if err := p.publishDurable(ctx, SubjectSearchIndexDelete, KindSearchIndexDelete, SearchIndexDeleteData{
		Operation: OperationDelete, ID: messageID,
	}); err != nil {
		return err
	}

	p.publishRealtime(SubjectRealtimeChatDeleted(chatID), KindMessageDeleted, MessageDeletedData{
		MessageID: messageID, ChatID: chatID,
	})
	return nil
}

// ChatMemberJoined publishes the durable chat-membership event.
func (p *Publisher) ChatMemberJoined(ctx context.Context, chatID, workspaceID, actorID, memberID int64) error {
	return p.publishDurable(ctx, SubjectDomainChat, KindChatMemberJoined, ChatEventData{
		Operation: OperationCreate, ChatID: chatID, WorkspaceID: workspaceID, ActorID: actorID, MemberID: memberID,
	})
}

// ChatMemberLeft publishes the durable chat-membership event.
func (p *Publisher) ChatMemberLeft(ctx context.Context, chatID, workspaceID, actorID, memberID int64) error {
	return p.publishDurable(ctx, SubjectDomainChat, KindChatMemberLeft, ChatEventData{
		Operation: OperationDelete, ChatID: chatID, WorkspaceID: workspaceID, ActorID: actorID, MemberID: memberID,
	})
}

// DuplicateMessageAttempted publishes the realtime notice that a replayed
// idempotency key resolved to an existing message.
func (p *Publisher) DuplicateMessageAttempted(chatID, messageID, senderID int64) {
	p.publishRealtime(SubjectRealtimeChat(chatID), KindDuplicateMessageAttempted, DuplicateMessageAttemptedData{
		ChatID: chatID, MessageID: messageID, SenderID: senderID,
	})
}

// MessageRead publishes the realtime read-receipt fan-out.
func (p *Publisher) MessageRead(chatID, userID, messageID int64) {
	p.publishRealtime(SubjectRealtimeChatRead(chatID), KindMessageRead, MessageReadData{
		ChatID: chatID, UserID: userID, MessageID: messageID,
	})
}

// TypingStarted publishes the realtime typing-indicator fan-out.
func (p *Publisher) TypingStarted(chatID, userID int64) {
	p.publishRealtime(SubjectRealtimeChatTyping(chatID), KindTypingStarted, TypingData{ChatID: chatID, UserID: userID})
}

// TypingStopped publishes the realtime typing-indicator fan-out.
func (p *Publisher) TypingStopped(chatID, userID int64) {
	p.publishRealtime(SubjectRealtimeChatTyping(chatID), KindTypingStopped, TypingData{ChatID: chatID, UserID: userID})
}

// UserPresence publishes the realtime presence-change fan-out.
func (p *Publisher) UserPresence(userID int64, status string) {
	p.publishRealtime(SubjectRealtimeUserPresence(userID), KindUserPresence, UserPresenceData{UserID: userID, Status: status})
}
