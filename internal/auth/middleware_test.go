package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chainHandler(mws ...func(http.Handler) http.Handler) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var h http.Handler = final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestRequireAuthNoHeader(t *testing.T) {
	t.Parallel()
	h := chainHandler(RequireAuth("secret", testIssuer))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthBadFormat(t *testing.T) {
	t.Parallel()
	h := chainHandler(RequireAuth("secret", testIssuer))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthExpiredToken(t *testing.T) {
	t.Parallel()
	secret := "test-secret"
	h := chainHandler(RequireAuth(secret, testIssuer))

	tokenStr, err := NewAccessToken(testIdentity(), secret, -1*time.Second, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthValid(t *testing.T) {
	t.Parallel()
	secret := "test-secret"
	u := testIdentity()

	var gotClaims *AccessClaims
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotClaims, _ = ClaimsFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	h := chainHandler(RequireAuth(secret, testIssuer), capture)

	tokenStr, err := NewAccessToken(u, secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotClaims == nil || gotClaims.UserID != u.UserID {
		t.Errorf("claims not propagated, got %+v", gotClaims)
	}
}

func TestRequireAuthWrongSignature(t *testing.T) {
	t.Parallel()
	h := chainHandler(RequireAuth("correct-secret", testIssuer))

	tokenStr, _ := NewAccessToken(testIdentity(), "wrong-secret", 15*time.Minute, testIssuer)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireWorkspace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		withClaims  bool
		workspaceID int64
		wantStatus  int
	}{
		{"no claims", false, 0, http.StatusUnauthorized},
		{"zero workspace", true, 0, http.StatusForbidden},
		{"valid workspace", true, 7, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inject := func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if tt.withClaims {
						claims := &AccessClaims{UserID: 1, WorkspaceID: tt.workspaceID}
						r = r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims))
					}
					next.ServeHTTP(w, r)
				})
			}

			h := chainHandler(inject, RequireWorkspace())
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

type fakeMembershipChecker struct {
	statuses map[int64]ChatMembershipStatus
	err      error
}

func (f *fakeMembershipChecker) ValidateChatAndMembership(_ context.Context, chatID, _ int64) (ChatMembershipStatus, error) {
	if f.err != nil {
		return "", f.err
	}
	status, ok := f.statuses[chatID]
	if !ok {
		return ChatMembershipChatNotFound, nil
	}
	return status, nil
}

func TestRequireChatMembership(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{statuses: map[int64]ChatMembershipStatus{10: ChatMembershipActive}}
	chatIDFromCtx := func(r *http.Request) (int64, error) {
		return 10, nil
	}

	injectAuthAndWorkspace := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthAndWorkspace, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireChatMembershipNotMember(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{statuses: map[int64]ChatMembershipStatus{99: ChatMembershipNotMember}}
	chatIDFromCtx := func(r *http.Request) (int64, error) { return 99, nil }

	injectAuthAndWorkspace := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthAndWorkspace, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireChatMembershipChatNotFound(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{statuses: map[int64]ChatMembershipStatus{}}
	chatIDFromCtx := func(r *http.Request) (int64, error) { return 404, nil }

	injectAuthAndWorkspace := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthAndWorkspace, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRequireChatMembershipDataInconsistency(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{statuses: map[int64]ChatMembershipStatus{10: ChatMembershipDataInconsistency}}
	chatIDFromCtx := func(r *http.Request) (int64, error) { return 10, nil }

	injectAuthAndWorkspace := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthAndWorkspace, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRequireChatMembershipRequiresPriorWorkspaceCheck(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{statuses: map[int64]ChatMembershipStatus{10: ChatMembershipActive}}
	chatIDFromCtx := func(r *http.Request) (int64, error) { return 10, nil }

	injectAuthOnly := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthOnly, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d (ordering violation)", rec.Code, http.StatusInternalServerError)
	}
}

func TestRequireChatMembershipCheckerError(t *testing.T) {
	t.Parallel()

	checker := &fakeMembershipChecker{err: errors.New("db down")}
	chatIDFromCtx := func(r *http.Request) (int64, error) { return 10, nil }

	injectAuthAndWorkspace := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &AccessClaims{UserID: 1, WorkspaceID: 7}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyWorkspaceChecked, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	h := chainHandler(injectAuthAndWorkspace, RequireChatMembership(checker, chatIDFromCtx))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
