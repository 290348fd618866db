package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Invalidator runs the write-path cache invalidations from the spec's
// coherence model, each under a distributed lock on the affected resource
// and each as a single atomic server-side step (a Lua script, or one
// multi-key DEL) so a partial failure never leaves split state.
type Invalidator struct {
	rdb     *redis.Client
	lockTTL time.Duration
}

// NewInvalidator creates an Invalidator. lockTTL bounds how long a writer may
// hold the resource lock while running an invalidation script (30-60s per
// the spec).
func NewInvalidator(rdb *redis.Client, lockTTL time.Duration) *Invalidator {
	return &Invalidator{rdb: rdb, lockTTL: lockTTL}
}

// newMessageScript deletes the chat's page/recent/detail keys, bumps its
// message counter, stamps its last-activity time, and deletes every
// recipient's chat-list/unread entries, all as one server-side step so a
// crash mid-invalidation cannot leave some of those keys stale and others
// gone. ARGV[1] is the count of KEYS that are plain deletes (recent,
// detail, and the message pages); ARGV[2] is the last-activity timestamp.
const newMessageScript = `
local fixedCount = tonumber(ARGV[1])
for i = 1, fixedCount do
	redis.call('DEL', KEYS[i])
end
redis.call('INCR', KEYS[fixedCount + 1])
redis.call('SET', KEYS[fixedCount + 2], ARGV[2])
for i = fixedCount + 3, #KEYS do
	redis.call('DEL', KEYS[i])
end
return 1
`

// NewMessage invalidates caches after a message is created in chatID and
// bumps its message counter, then deletes each recipient's chat-list and
// unread-count entries.
func (iv *Invalidator) NewMessage(ctx context.Context, chatID int64, recipientUserIDs []int64, now time.Time) error {
	resource := fmt.Sprintf("chat:%d", chatID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		fixedKeys := []string{RecentMessagesKey(chatID), ChatDetailKey(chatID)}
		for p := 0; p < MessagePageCount; p++ {
			fixedKeys = append(fixedKeys, MessagesPageKey(chatID, p))
		}
		keys := append(fixedKeys, ChatMessageCountKey(chatID), ChatLastActivityKey(chatID))
		for _, uid := range recipientUserIDs {
			keys = append(keys, ChatListKey(uid), UnreadKey(uid, chatID))
		}

		if err := iv.rdb.Eval(ctx, newMessageScript, keys, len(fixedKeys), now.Unix()).Err(); err != nil {
			return fmt.Errorf("invalidate new-message keys: %w", err)
		}
		return nil
	})
}

// memberAddedScript deletes the chat-list/members/detail keys and sets the
// membership and unread markers as one step.
const memberAddedScript = `
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
redis.call('SET', KEYS[4], 'true')
redis.call('SET', KEYS[5], 0)
return 1
`

// MemberAdded invalidates caches after userID joins chatID.
func (iv *Invalidator) MemberAdded(ctx context.Context, chatID, userID int64) error {
	resource := fmt.Sprintf("chat:%d:members", chatID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		keys := []string{ChatListKey(userID), ChatMembersKey(chatID), ChatDetailKey(chatID), IsMemberKey(userID, chatID), UnreadKey(userID, chatID)}
		if err := iv.rdb.Eval(ctx, memberAddedScript, keys).Err(); err != nil {
			return fmt.Errorf("invalidate member-added keys: %w", err)
		}
		return nil
	})
}

// MemberRemoved invalidates caches after userID leaves chatID.
func (iv *Invalidator) MemberRemoved(ctx context.Context, chatID, userID int64) error {
	resource := fmt.Sprintf("chat:%d:members", chatID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		return iv.rdb.Del(ctx,
			ChatListKey(userID), ChatMembersKey(chatID), ChatDetailKey(chatID),
			IsMemberKey(userID, chatID), UnreadKey(userID, chatID),
		).Err()
	})
}

// patternDeleteScript deletes the fixed KEYS plus every key matching each of
// the glob patterns in ARGV, so the fixed deletes and the pattern sweep
// commit as one step rather than as a delete followed by a separate scan.
const patternDeleteScript = `
if #KEYS > 0 then
	redis.call('DEL', unpack(KEYS))
end
for i = 1, #ARGV do
	local matched = redis.call('KEYS', ARGV[i])
	for _, k in ipairs(matched) do
		redis.call('DEL', k)
	end
end
return 1
`

// UserUpdated invalidates a user's profile-adjacent keys and sweeps
// workspace membership listings and session keys that embed the user's
// profile fields.
func (iv *Invalidator) UserUpdated(ctx context.Context, userID, workspaceID int64) error {
	resource := fmt.Sprintf("user:%d", userID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		keys := []string{UserProfileKey(userID), UserSettingsKey(), UserPermissionsKey(), UserStatusKey(), ChatListKey(userID)}
		patterns := []string{WorkspaceUsersPattern(workspaceID), SessionUserPrefix(userID) + "*"}
		if err := iv.rdb.Eval(ctx, patternDeleteScript, keys, toAny(patterns)...).Err(); err != nil {
			return fmt.Errorf("invalidate user-updated keys: %w", err)
		}
		return nil
	})
}

// MessageEditedOrDeleted invalidates the chat's recent-message and page keys
// and every search key in the workspace that might have cached the message.
// No per-message key is deleted: messageID is not used.
func (iv *Invalidator) MessageEditedOrDeleted(ctx context.Context, chatID, messageID, workspaceID int64) error {
	resource := fmt.Sprintf("chat:%d", chatID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		keys := []string{RecentMessagesKey(chatID)}
		for p := 0; p < MessagePageCount; p++ {
			keys = append(keys, MessagesPageKey(chatID, p))
		}
		patterns := []string{fmt.Sprintf("search:%d:*", workspaceID)}
		if err := iv.rdb.Eval(ctx, patternDeleteScript, keys, toAny(patterns)...).Err(); err != nil {
			return fmt.Errorf("invalidate message keys: %w", err)
		}
		return nil
	})
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ChatUpdated invalidates a chat's detail/settings/metadata keys and every
// member's chat-list entry.
func (iv *Invalidator) ChatUpdated(ctx context.Context, chatID int64, memberUserIDs []int64) error {
	resource := fmt.Sprintf("chat:%d", chatID)
	return WithLock(ctx, iv.rdb, resource, iv.lockTTL, func(ctx context.Context) error {
		keys := []string{ChatDetailKey(chatID), ChatSettingsKey(chatID), ChatMetadataKey(chatID)}
		for _, uid := range memberUserIDs {
			keys = append(keys, ChatListKey(uid))
		}
		if err := iv.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("invalidate chat-updated keys: %w", err)
		}
		return nil
	})
}

