// Package eventpub is the typed semantic layer above the dispatcher: it
// builds versioned, optionally signed event envelopes for the domain events
// a write can produce, and exposes one helper per event kind.
package eventpub

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is the current envelope schema version.
const EnvelopeVersion = 1

// Kind names the semantic event carried by an envelope.
type Kind string

const (
	KindMessageCreated            Kind = "message.created"
	KindMessageReceived           Kind = "message.received"
	KindMessageUpdated            Kind = "message.updated"
	KindMessageDeleted            Kind = "message.deleted"
	KindChatMemberJoined          Kind = "chat.member_joined"
	KindChatMemberLeft            Kind = "chat.member_left"
	KindDuplicateMessageAttempted Kind = "message.duplicate_attempted"
	KindSearchIndexMessage        Kind = "search.index.message"
	KindSearchIndexDelete         Kind = "search.index.delete"
	KindMessageRead               Kind = "message.read"
	KindTypingStarted             Kind = "chat.typing_started"
	KindTypingStopped             Kind = "chat.typing_stopped"
	KindUserPresence              Kind = "user.presence"
)

// Envelope is the versioned wrapper every published event is serialized as.
// Sig is populated only when the deployment is configured to embed the
// signature in the payload rather than an out-of-band transport header.
type Envelope struct {
	Version    int             `json:"version"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	Sig        string          `json:"sig,omitempty"`
}

// MessageEventData is the rich, replayable payload for message domain
// events (durable stream): the entity plus enough context that a downstream
// consumer (search indexer, audit log) never needs to re-query the chat
// server.
type MessageEventData struct {
	Operation   Operation `json:"operation"`
	MessageID   int64     `json:"message_id"`
	ChatID      int64     `json:"chat_id"`
	ChatName    string    `json:"chat_name"`
	WorkspaceID int64     `json:"workspace_id"`
	SenderID    int64     `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	Files       []string  `json:"files,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatEventData is the rich payload for chat domain events (durable
// stream): membership changes, creation, and deletion.
type ChatEventData struct {
	Operation   Operation `json:"operation"`
	ChatID      int64     `json:"chat_id"`
	WorkspaceID int64     `json:"workspace_id"`
	ActorID     int64     `json:"actor_id"`
	MemberID    int64     `json:"member_id,omitempty"`
}

// SearchIndexMessageData is published whenever a message should be
// (re)indexed.
type SearchIndexMessageData struct {
	Operation Operation         `json:"operation"`
	Message   MessageEventData  `json:"message"`
	ChatInfo  SearchChatContext `json:"chat_info"`
}

// SearchChatContext is the minimal chat context the search indexer needs
// alongside a message.
type SearchChatContext struct {
	ChatID      int64  `json:"chat_id"`
	ChatName    string `json:"chat_name"`
	WorkspaceID int64  `json:"workspace_id"`
}

// SearchIndexDeleteData is published when a previously indexed message is
// removed.
type SearchIndexDeleteData struct {
	Operation Operation `json:"operation"`
	ID        int64     `json:"id"`
}

// MessageReceivedData is the compact realtime payload fanned out to live
// chat members, plus the sender (for send confirmation).
type MessageReceivedData struct {
	Message    MessageEventData `json:"message"`
	Recipients []int64          `json:"recipients"`
}

// MessageReadData is fanned out to chat members other than the reader when
// a read receipt advances.
type MessageReadData struct {
	ChatID    int64 `json:"chat_id"`
	UserID    int64 `json:"user_id"`
	MessageID int64 `json:"message_id"`
}

// MessageDeletedData is fanned out to chat members when a message is
// hard-deleted.
type MessageDeletedData struct {
	MessageID int64 `json:"message_id"`
	ChatID    int64 `json:"chat_id"`
}

// TypingData is fanned out to chat members other than the typer.
type TypingData struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// DuplicateMessageAttemptedData notifies the sender that a replayed
// idempotency key resolved to an already-existing message.
type DuplicateMessageAttemptedData struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
	SenderID  int64 `json:"sender_id"`
}

// UserPresenceData is broadcast to users who share a chat with the subject.
type UserPresenceData struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// Operation classifies a domain write.
type Operation string

const (
	OperationCreate Operation = "Create"
	OperationUpdate Operation = "Update"
	OperationDelete Operation = "Delete"
)
