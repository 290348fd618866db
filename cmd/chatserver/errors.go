package main

import (
	"errors"
	"net/http"

	"github.com/fechatter/fechatter/internal/apperr"
	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/httputil"
	"github.com/fechatter/fechatter/internal/message"
	"github.com/fechatter/fechatter/internal/user"
	"github.com/fechatter/fechatter/internal/workspace"
)

// domainErrorCodes maps the sentinel errors domain packages return to an
// apperr.Code, so a single table drives every handler's error response
// instead of a switch duplicated per handler.
var domainErrorCodes = map[error]apperr.Code{
	auth.ErrInvalidEmail:         apperr.CodeValidation,
	auth.ErrFullnameLength:       apperr.CodeValidation,
	auth.ErrPasswordTooShort:     apperr.CodeValidation,
	auth.ErrPasswordTooLong:      apperr.CodeValidation,
	auth.ErrInvalidCredentials:   apperr.CodeUnauthorized,
	auth.ErrEmailAlreadyTaken:    apperr.CodeConflict,
	auth.ErrInvalidToken:         apperr.CodeUnauthorized,
	auth.ErrRefreshTokenNotFound: apperr.CodeUnauthorized,
	auth.ErrRefreshTokenExpired:  apperr.CodeUnauthorized,
	auth.ErrRefreshTokenReused:   apperr.CodeUnauthorized,
	auth.ErrAccountSuspended:     apperr.CodeForbidden,

	user.ErrNotFound:      apperr.CodeNotFound,
	user.ErrAlreadyExists: apperr.CodeConflict,

	workspace.ErrNotFound:   apperr.CodeNotFound,
	workspace.ErrNameLength: apperr.CodeValidation,
	workspace.ErrNotOwner:   apperr.CodeForbidden,

	chat.ErrNotFound:                apperr.CodeNotFound,
	chat.ErrNameLength:              apperr.CodeChatValidation,
	chat.ErrSingleMemberCount:       apperr.CodeChatValidation,
	chat.ErrGroupMemberCount:        apperr.CodeChatValidation,
	chat.ErrNotCreator:              apperr.CodeChatPermission,
	chat.ErrCannotRemoveCreator:     apperr.CodeChatValidation,
	chat.ErrBelowMinimumMembers:     apperr.CodeChatValidation,
	chat.ErrTransferTargetNotMember: apperr.CodeChatValidation,
	chat.ErrTransferNotGroupChat:    apperr.CodeChatValidation,

	message.ErrNotFound:       apperr.CodeNotFound,
	message.ErrContentTooLong: apperr.CodeValidation,
	message.ErrEmptyContent:   apperr.CodeValidation,
	message.ErrTooManyFiles:   apperr.CodeValidation,
	message.ErrNotSender:      apperr.CodeForbidden,
	message.ErrNotChatMember:  apperr.CodeForbidden,
}

// failDomain writes an HTTP error response for err, translating a known
// domain sentinel to its apperr.Code/message, or treating err as an opaque
// internal failure otherwise.
func failDomain(w http.ResponseWriter, log func(error), err error) {
	for sentinel, code := range domainErrorCodes {
		if errors.Is(err, sentinel) {
			httputil.Fail(w, apperr.New(code, err.Error()))
			return
		}
	}
	log(err)
	httputil.Fail(w, apperr.Wrap(apperr.CodeInternal, "internal error", err))
}
