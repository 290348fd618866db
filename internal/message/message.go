// Package message implements the message domain service: creation with
// idempotency and per-chat sequence allocation, edit/delete, pagination,
// delivery/read receipts, and @mention extraction.
package message

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// sanitizer strips all HTML from message content before it is stored, since
// clients render content as plain text rather than rich HTML.
var sanitizer = bluemonday.StrictPolicy()

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrTooManyFiles   = errors.New("message may not reference more than 10 files")
	ErrNotSender      = errors.New("you can only modify your own messages")
	ErrNotChatMember  = errors.New("sender is not an active member of this chat")
)

// Limits enforced on message content and pagination.
const (
	MaxContentLength = 16384
	MaxFiles         = 10

	DefaultLimit = 50
	MaxLimit     = 100
)

// ReceiptStatus enumerates the receipt states a (message, user) pair can be in.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)

// Message holds the fields read from the database.
type Message struct {
	ID             int64
	ChatID         int64
	SenderID       int64
	Content        string
	Files          []string
	IdempotencyKey uuid.UUID
	Sequence       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateParams groups the inputs for creating a new message.
type CreateParams struct {
	ChatID         int64
	SenderID       int64
	Content        string
	Files          []string
	IdempotencyKey uuid.UUID
}

// Mention associates a message with a mentioned user.
type Mention struct {
	MessageID int64
	UserID    int64
}

// ValidateContent checks that content is non-empty after trimming and does
// not exceed MaxContentLength runes.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(sanitizer.Sanitize(content))
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ValidateFiles checks that a message does not reference more than MaxFiles
// attachment URLs.
func ValidateFiles(files []string) error {
	if len(files) > MaxFiles {
		return ErrTooManyFiles
	}
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to
// DefaultLimit when the input is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// mentionPattern matches an @-token of up to 64 word characters, dots,
// underscores, or hyphens.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]{1,64})`)

// ExtractMentions scans content for @<name> tokens and resolves each to a
// user id using membersByName (keyed case-insensitively by display name or
// handle). Only one mention per user is returned, in first-occurrence order;
// unresolved tokens are ignored.
func ExtractMentions(content string, membersByName map[string]int64) []int64 {
	if len(membersByName) == 0 {
		return nil
	}
	lower := make(map[string]int64, len(membersByName))
	for name, id := range membersByName {
		lower[strings.ToLower(name)] = id
	}

	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[int64]bool)
	var out []int64
	for _, m := range matches {
		id, ok := lower[strings.ToLower(m[1])]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	// Create inserts a message and allocates its per-chat sequence number.
	// If idempotencyKey already exists for this chat, the original message
	// is returned with replayed=true and no new row is inserted.
	Create(ctx context.Context, params CreateParams) (msg *Message, replayed bool, err error)
	GetByID(ctx context.Context, id int64) (*Message, error)
	// List returns at most limit messages in chatID with id < lastID (when
	// lastID is non-nil), ordered by id descending.
	List(ctx context.Context, chatID int64, lastID *int64, limit int) ([]Message, error)
	UpdateContent(ctx context.Context, id, senderID int64, content string) (*Message, error)
	// Delete hard-deletes the message. A deleted message is never returned
	// by GetByID or List again.
	Delete(ctx context.Context, id, senderID int64) error

	MarkDelivered(ctx context.Context, messageID, userID int64) error
	MarkRead(ctx context.Context, messageID, userID int64) error
	GetUnreadCount(ctx context.Context, chatID, userID int64) (int, error)
	// MarkReadEnhanced records a read receipt and advances the user's
	// per-chat read watermark to messageID, plus clears any mention
	// receipts on or before it.
	MarkReadEnhanced(ctx context.Context, userID, chatID, messageID int64) error

	SaveMentions(ctx context.Context, messageID int64, userIDs []int64) error
	GetUnreadMentionsForUser(ctx context.Context, userID int64) ([]Mention, error)
}
