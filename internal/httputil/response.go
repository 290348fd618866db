// Package httputil provides the JSON response envelope shared by the chat
// server and notify server HTTP surfaces.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/fechatter/fechatter/internal/apperr"
)

// errorBody is the wire shape of an error response (spec.md §6): {error, status}.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Fail writes an error response, deriving the HTTP status from err's
// apperr.Code when present. Internal causes are never serialized to the
// client; callers are expected to log err separately with its correlation id.
func Fail(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	msg := "internal error"
	if e, ok := apperr.As(err); ok {
		msg = e.Message
	}
	JSON(w, status, errorBody{Error: msg, Status: status})
}

// DecodeJSON decodes the request body into v, returning a validation apperr
// on malformed JSON.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "malformed request body", err)
	}
	return nil
}

// ClientIP returns the host portion of r.RemoteAddr, falling back to the raw
// value if it carries no port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
