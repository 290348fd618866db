package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WarmupSources supplies the data a login warmup hydrates into the cache.
// Each method's result is marshaled and written with the default TTL;
// errors are surfaced so the caller can decide whether to treat a failed
// warmup as fatal (it should not be — warmup is best-effort).
type WarmupSources interface {
	Profile(ctx context.Context, userID int64) (any, error)
	ChatList(ctx context.Context, userID int64) (any, error)
	WorkspaceUsers(ctx context.Context, workspaceID int64) (any, error)
	RecentMessages(ctx context.Context, chatID int64) (any, error)
	UnreadCount(ctx context.Context, userID, chatID int64) (int, error)
	TopActiveChats(ctx context.Context, userID int64, n int) ([]int64, error)
}

// TopActiveChatCount bounds how many of a user's most active chats get
// their recent messages warmed on login.
const TopActiveChatCount = 5

// Warmup hydrates the cache on user login: profile, chat list, workspace
// users, recent messages of the user's top active chats, and unread counts.
// Already-cached entries are left untouched.
func Warmup(ctx context.Context, rdb *redis.Client, ttl time.Duration, workspaceID, userID int64, src WarmupSources) error {
	if err := warmupOne(ctx, rdb, ttl, UserProfileKey(userID), func() (any, error) {
		return src.Profile(ctx, userID)
	}); err != nil {
		return err
	}
	if err := warmupOne(ctx, rdb, ttl, ChatListKey(userID), func() (any, error) {
		return src.ChatList(ctx, userID)
	}); err != nil {
		return err
	}
	if err := warmupOne(ctx, rdb, ttl, fmt.Sprintf("workspace:%d:users", workspaceID), func() (any, error) {
		return src.WorkspaceUsers(ctx, workspaceID)
	}); err != nil {
		return err
	}

	topChats, err := src.TopActiveChats(ctx, userID, TopActiveChatCount)
	if err != nil {
		return fmt.Errorf("list top active chats: %w", err)
	}
	for _, chatID := range topChats {
		chatID := chatID
		if err := warmupOne(ctx, rdb, ttl, RecentMessagesKey(chatID), func() (any, error) {
			return src.RecentMessages(ctx, chatID)
		}); err != nil {
			return err
		}
		if err := warmupOne(ctx, rdb, ttl, UnreadKey(userID, chatID), func() (any, error) {
			return src.UnreadCount(ctx, userID, chatID)
		}); err != nil {
			return err
		}
	}
	return nil
}

func warmupOne(ctx context.Context, rdb *redis.Client, ttl time.Duration, key string, load func() (any, error)) error {
	exists, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check warmup key %q: %w", key, err)
	}
	if exists > 0 {
		return nil
	}

	value, err := load()
	if err != nil {
		return fmt.Errorf("load warmup value for %q: %w", key, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal warmup value for %q: %w", key, err)
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("write warmup value for %q: %w", key, err)
	}
	return nil
}
