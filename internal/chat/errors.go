package chat

import (
	"errors"
	"fmt"
)

// Stable reason codes reported back to the originating connection.
// Clients branch on Code; Message is advisory text.
const (
	CodeValidation        = "validation_error"
	CodeRecipientNotFound = "recipient_not_found"
	CodeBlocked           = "blocked"
	CodeContentRequired   = "content_required"
	CodeInvalidReply      = "invalid_reply"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeAlreadyDeleted    = "already_deleted"
	CodeUnsupportedType   = "unsupported_type"
	CodeEditWindowExpired = "edit_window_expired"
	CodeNoChange          = "no_change"
	CodeRateLimited       = "rate_limited"
	CodePersistence       = "persistence_error"
)

// Error is the failure shape every event handler reports. A failed
// operation never mutates state beyond what its code implies and never
// terminates the connection.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds, rate_limited only
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrRecipientNotFound = &Error{Code: CodeRecipientNotFound, Message: "recipient does not exist"}
	ErrBlocked           = &Error{Code: CodeBlocked, Message: "messaging is blocked between these users"}
	ErrContentRequired   = &Error{Code: CodeContentRequired, Message: "message content is required"}
	ErrInvalidReply      = &Error{Code: CodeInvalidReply, Message: "replied-to message is not part of this conversation"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "message not found"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "not allowed for this user"}
	ErrAlreadyDeleted    = &Error{Code: CodeAlreadyDeleted, Message: "message is already deleted"}
	ErrUnsupportedType   = &Error{Code: CodeUnsupportedType, Message: "only text messages can be edited"}
	ErrEditWindowExpired = &Error{Code: CodeEditWindowExpired, Message: "edit window has expired"}
	ErrNoChange          = &Error{Code: CodeNoChange, Message: "new content is identical to the current content"}
)

func validationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func rateLimitedError(retryAfter int) *Error {
	return &Error{Code: CodeRateLimited, Message: "too many messages, slow down", RetryAfter: retryAfter}
}

// persistenceError hides store internals from the client; the cause is
// logged by the caller.
func persistenceError() *Error {
	return &Error{Code: CodePersistence, Message: "temporary storage failure, please resend"}
}

// asError normalizes any failure into a reportable *Error.
func asError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return persistenceError()
}
