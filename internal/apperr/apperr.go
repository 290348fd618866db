// Package apperr defines the domain-neutral error taxonomy shared by every
// Fechatter service, and the HTTP status each code maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of an application error, independent of the
// message text attached to any one occurrence.
type Code string

const (
	CodeValidation         Code = "validation"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeChatPermission     Code = "chat_permission"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeChatValidation     Code = "chat_validation"
	CodeSearch             Code = "search"
	CodeEventPublishing    Code = "event_publishing"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeUpstreamError      Code = "upstream_error"
	CodeInternal           Code = "internal"
)

// httpStatus maps each Code to its default HTTP status. Handlers may still
// special-case a particular error (e.g. idempotent replay returns 200
// instead of letting Conflict's default 409 apply).
var httpStatus = map[Code]int{
	CodeValidation:          http.StatusBadRequest,
	CodeInvalidInput:        http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeChatPermission:      http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeChatValidation:      http.StatusBadRequest,
	CodeSearch:              http.StatusInternalServerError,
	CodeEventPublishing:     http.StatusInternalServerError,
	CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	CodeUpstreamError:       http.StatusBadGateway,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is the typed application error returned by domain services. Handlers
// map it to an HTTP response without needing to know which package produced
// it.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps an underlying cause, preserved for logging
// and errors.Is/As but never serialized to the client.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code of err if it (or something it wraps) is an *Error,
// otherwise CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// StatusOf returns the HTTP status err should be reported as, defaulting to
// 500 for errors that carry no Code.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
