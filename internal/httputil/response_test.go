package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/fechatter/fechatter/internal/apperr"
)

func TestFail_UsesCodeStatusAndMessage(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Fail(rec, apperr.New(apperr.CodeNotFound, "chat not found"))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Body.String(); got == "" {
		t.Fatal("expected non-empty body")
	}
}

func TestFail_NonAppErrorHidesCause(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Fail(rec, errPlain("boom: leaked secret"))

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if containsSubstring(body, "leaked secret") {
		t.Fatalf("body leaked internal error detail: %s", body)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
