// Package cache implements the two-tier cache fronting chat list, chat
// detail, membership, profile, recent-message, and unread-count reads: a
// fixed key-naming scheme, a sync/async hybrid adapter, a distributed lock,
// and atomic multi-key invalidation for each write path.
package cache

import "strconv"

// Key-naming scheme. Most cache keys are built through these functions; the
// workspace-users key written by Warmup, the search sweep pattern in
// MessageEditedOrDeleted and the "lock:" keys of WithLock are formatted inline.

func UserProfileKey(userID int64) string {
	return "user:profile:" + itoa(userID)
}

func ChatDetailKey(chatID int64) string {
	return "chat:detail:" + itoa(chatID)
}

func ChatMembersKey(chatID int64) string {
	return "chat:members:" + itoa(chatID)
}

func ChatListKey(userID int64) string {
	return "chat_list:" + itoa(userID)
}

func ChatMessageCountKey(chatID int64) string {
	return "chat:message:count:" + itoa(chatID)
}

func RecentMessagesKey(chatID int64) string {
	return "recent_messages:" + itoa(chatID)
}

func MessagesPageKey(chatID int64, page int) string {
	return "messages:" + itoa(chatID) + ":page:" + strconv.Itoa(page)
}

func UnreadKey(userID, chatID int64) string {
	return "unread:" + itoa(userID) + ":" + itoa(chatID)
}

func SearchKey(workspaceID int64, query string) string {
	return "search:" + itoa(workspaceID) + ":" + query
}

func RateLimitKey(userID int64, endpoint string) string {
	return "rate_limit:" + itoa(userID) + ":" + endpoint
}

func SessionUserPrefix(userID int64) string {
	return "session:user:" + itoa(userID) + ":"
}

func IsMemberKey(userID, chatID int64) string {
	return "is_member:" + itoa(userID) + ":" + itoa(chatID)
}

func ChatLastActivityKey(chatID int64) string {
	return "chat:" + itoa(chatID) + ":last:activity"
}

func ChatSettingsKey(chatID int64) string {
	return "chat:settings:" + itoa(chatID)
}

func ChatMetadataKey(chatID int64) string {
	return "chat:metadata:" + itoa(chatID)
}

func UserSettingsKey() string { return "user:settings" }

func UserPermissionsKey() string { return "user:permissions" }

func UserStatusKey() string { return "user:status" }

func WorkspaceUsersPattern(workspaceID int64) string {
	return "workspace:" + itoa(workspaceID) + ":users:*"
}

// MessagePageCount is the number of recent pages invalidated on a new
// message, matching the spec's "page 0..9" range.
const MessagePageCount = 10

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
