// Package apperr defines the error taxonomy shared by all services and its
// mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindPermission
	KindStateConflict
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindStateConflict:
		return "state_conflict"
	case KindExternal:
		return "external_dependency"
	default:
		return "internal"
	}
}

// Error is a classified application error. Code is a stable machine-readable
// identifier for states the public signing page renders distinctly.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil && msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil && e.Kind == KindExternal {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports caller-fixable input problems.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or out-of-scope entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: entity + " not found"}
}

// Permission reports an existing entity the caller may not act on.
func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// NotDraft rejects an owner edit on a task that has left draft.
func NotDraft(action string, status any) *Error {
	return &Error{
		Kind:    KindPermission,
		Code:    "task_not_draft",
		Message: fmt.Sprintf("%s only while the task is a draft (task is %s)", action, status),
	}
}

// Conflict reports an action taken in the wrong lifecycle state.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

// External wraps a storage, email or queue failure.
func External(op string, err error) *Error {
	return &Error{Kind: KindExternal, Message: op, Err: err}
}

var (
	ErrTokenExpired       = &Error{Kind: KindStateConflict, Code: "token_expired", Message: "signing link has expired"}
	ErrAlreadySigned      = &Error{Kind: KindStateConflict, Code: "already_signed", Message: "recipient has already signed"}
	ErrRecipientCancelled = &Error{Kind: KindStateConflict, Code: "recipient_cancelled", Message: "signing request was cancelled"}
)

// KindOf returns the classification of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps err onto the public wire contract.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrAlreadySigned), errors.Is(err, ErrRecipientCancelled):
		return http.StatusGone
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindStateConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
