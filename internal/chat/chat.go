// Package chat implements the chat and membership domain: chat creation
// with per-type member-set invariants, membership lifecycle (add/remove,
// soft-leave/reactivate), ownership transfer, and membership-status checks
// used by the auth middleware chain.
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for the chat package.
var (
	ErrNotFound                = errors.New("chat not found")
	ErrNameLength              = errors.New("chat name must be non-blank and at most 128 characters")
	ErrSingleMemberCount       = errors.New("a single chat must have exactly 2 distinct members")
	ErrGroupMemberCount        = errors.New("a group chat must have at least 3 distinct members")
	ErrNotCreator              = errors.New("only the chat creator may perform this action")
	ErrCannotRemoveCreator     = errors.New("the chat creator cannot be removed")
	ErrBelowMinimumMembers     = errors.New("removing these members would drop the group below its minimum size")
	ErrTransferTargetNotMember = errors.New("ownership transfer target must be a current chat member")
	ErrTransferNotGroupChat    = errors.New("ownership transfer is only supported for group chats")
)

// Type enumerates the kinds of chat.
type Type string

const (
	TypeSingle         Type = "single"
	TypeGroup          Type = "group"
	TypePrivateChannel Type = "private_channel"
	TypePublicChannel  Type = "public_channel"
)

// Role enumerates a member's role within a chat.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// MaxNameLength is the maximum length of a chat name.
const MaxNameLength = 128

// MinGroupMembers is the minimum number of distinct members a group chat
// must retain after any successful membership change.
const MinGroupMembers = 3

// MembershipStatus is the result of checking whether a user may act on a
// chat.
type MembershipStatus string

const (
	StatusActiveMember      MembershipStatus = "active_member"
	StatusChatNotFound      MembershipStatus = "chat_not_found"
	StatusNotMember         MembershipStatus = "not_member"
	StatusUserLeftChat      MembershipStatus = "user_left_chat"
	StatusDataInconsistency MembershipStatus = "data_inconsistency"
)

// Chat holds the fields read from the database.
type Chat struct {
	ID          int64
	WorkspaceID int64
	Type        Type
	Name        string
	Description string
	CreatorID   int64
	MemberIDs   []int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member holds a single (chat, user) membership row.
type Member struct {
	ChatID   int64
	UserID   int64
	Role     Role
	JoinedAt time.Time
	LeftAt   *time.Time
}

// CreateParams groups the inputs for creating a new chat.
type CreateParams struct {
	WorkspaceID int64
	CreatorID   int64
	Type        Type
	Name        string
	Description string
	MemberIDs   []int64
}

// UpdateParams groups the optional fields for updating a chat. A nil field
// leaves the corresponding column untouched.
type UpdateParams struct {
	Name        *string
	Description *string
}

// ValidateName checks that a chat name is non-blank after trimming and at
// most MaxNameLength characters.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > MaxNameLength {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ProcessChatMembers composes the final, ordered, deduplicated member set for
// a new chat of the given type, placing creatorID first, and enforces the
// per-type size invariants from the data model. It is a pure function so the
// membership-composition rules can be tested without a database.
func ProcessChatMembers(chatType Type, creatorID int64, requested []int64) ([]int64, error) {
	seen := map[int64]bool{creatorID: true}
	members := []int64{creatorID}
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	switch chatType {
	case TypeSingle:
		if len(members) != 2 {
			return nil, ErrSingleMemberCount
		}
	case TypeGroup:
		if len(members) < MinGroupMembers {
			return nil, ErrGroupMemberCount
		}
	case TypePublicChannel:
		// A public channel starts with only its creator; anyone in the
		// workspace may join afterward.
		members = []int64{creatorID}
	case TypePrivateChannel:
		// No minimum beyond the creator; members are invite-only from here.
	}

	return members, nil
}

// RemainingAfterRemoval returns the member ids left after removing targets
// from current, always keeping creatorID regardless of whether it appears in
// targets. It is used to check the group minimum-size invariant before a
// removal is committed.
func RemainingAfterRemoval(current []int64, creatorID int64, targets []int64) []int64 {
	remove := make(map[int64]bool, len(targets))
	for _, t := range targets {
		if t != creatorID {
			remove[t] = true
		}
	}
	var out []int64
	for _, id := range current {
		if !remove[id] {
			out = append(out, id)
		}
	}
	return out
}

// sortedCopy returns a sorted copy of ids, used by tests that compare member
// sets independent of insertion order where order is not semantically
// significant.
func sortedCopy(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Repository defines the data-access contract for chat operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Chat, error)
	GetByID(ctx context.Context, id int64) (*Chat, error)
	Update(ctx context.Context, id, actorID int64, params UpdateParams) (*Chat, error)
	Delete(ctx context.Context, id, actorID int64) error
	AddMembers(ctx context.Context, chatID, actorID int64, newMembers []int64) ([]int64, error)
	RemoveMembers(ctx context.Context, chatID, actorID int64, targets []int64) error
	TransferOwnership(ctx context.Context, chatID, fromUserID, toUserID int64) error
	// ValidateChatAndMembership implements auth.ChatMembershipChecker.
	ValidateChatAndMembership(ctx context.Context, chatID, userID int64) (MembershipStatus, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	ListMembers(ctx context.Context, chatID int64) ([]Member, error)
	ListSidebarForUser(ctx context.Context, userID int64) ([]Chat, error)
}
