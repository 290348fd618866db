package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fechatter/fechatter/internal/apperr"
	"github.com/fechatter/fechatter/internal/httputil"
)

type ctxKey int

const (
	ctxKeyClaims ctxKey = iota
	ctxKeyWorkspaceChecked
	ctxKeyChatID
)

// ClaimsFromContext returns the access token claims stored by RequireAuth, if
// any middleware earlier in the chain ran it.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(*AccessClaims)
	return claims, ok
}

// RequireAuth returns middleware that validates a JWT Bearer token from the
// Authorization header and stores its claims in the request context. It must
// run before RequireWorkspace and RequireChatMembership in the chain.
func RequireAuth(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "missing authorization header"))
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "invalid authorization format"))
				return
			}
			tokenStr := strings.TrimPrefix(header, prefix)

			claims, err := ValidateAccessToken(tokenStr, secret, issuer)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token has expired"
				}
				httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, msg))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWorkspace returns middleware that asserts RequireAuth already ran and
// marks the workspace as checked so RequireChatMembership can verify ordering.
// It must run after RequireAuth and before RequireChatMembership.
func RequireWorkspace() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
				return
			}
			if claims.WorkspaceID == 0 {
				httputil.Fail(w, apperr.New(apperr.CodeForbidden, "no workspace membership"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChatMembershipStatus mirrors chat.MembershipStatus without the auth package
// needing to depend on the chat package's storage layer.
type ChatMembershipStatus string

const (
	ChatMembershipActive            ChatMembershipStatus = "active_member"
	ChatMembershipChatNotFound      ChatMembershipStatus = "chat_not_found"
	ChatMembershipNotMember         ChatMembershipStatus = "not_member"
	ChatMembershipUserLeftChat      ChatMembershipStatus = "user_left_chat"
	ChatMembershipDataInconsistency ChatMembershipStatus = "data_inconsistency"
)

// ChatMembershipChecker reports the caller's membership status for a chat,
// without the auth package needing to depend on the chat package's storage
// layer.
type ChatMembershipChecker interface {
	ValidateChatAndMembership(ctx context.Context, chatID, userID int64) (ChatMembershipStatus, error)
}

// ChatIDFromRequest extracts the chat id from the request (e.g. its path
// segment via chi.URLParam) and parses it as an int64.
type ChatIDFromRequest func(r *http.Request) (int64, error)

// RequireChatMembership returns middleware enforcing that the authenticated
// user belongs to the chat named in the request. It must run after
// RequireAuth and RequireWorkspace; calling it first is a programming error
// and returns 500 rather than silently allowing the request through.
func RequireChatMembership(checker ChatMembershipChecker, chatID ChatIDFromRequest) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
				return
			}
			if _, ok := r.Context().Value(ctxKeyWorkspaceChecked).(bool); !ok {
				httputil.Fail(w, apperr.New(apperr.CodeInternal, "chat membership check requires workspace middleware to run first"))
				return
			}

			id, err := chatID(r)
			if err != nil {
				httputil.Fail(w, apperr.Wrap(apperr.CodeInvalidInput, "invalid chat id", err))
				return
			}

			status, err := checker.ValidateChatAndMembership(r.Context(), id, claims.UserID)
			if err != nil {
				httputil.Fail(w, apperr.Wrap(apperr.CodeInternal, "check chat membership", err))
				return
			}
			switch status {
			case ChatMembershipActive:
				// proceed
			case ChatMembershipChatNotFound:
				httputil.Fail(w, apperr.New(apperr.CodeNotFound, "chat not found"))
				return
			case ChatMembershipNotMember, ChatMembershipUserLeftChat:
				httputil.Fail(w, apperr.New(apperr.CodeChatPermission, "not a member of this chat"))
				return
			default:
				httputil.Fail(w, apperr.New(apperr.CodeInternal, "inconsistent chat membership state"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyChatID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChatIDFromContext returns the chat id validated by RequireChatMembership.
func ChatIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKeyChatID).(int64)
	return id, ok
}

// ParseInt64Param adapts a chi-style URLParam lookup function into a
// ChatIDFromRequest.
func ParseInt64Param(lookup func(r *http.Request, key string) string, key string) ChatIDFromRequest {
	return func(r *http.Request) (int64, error) {
		return strconv.ParseInt(lookup(r, key), 10, 64)
	}
}
