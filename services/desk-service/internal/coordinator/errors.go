package coordinator

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindTransition   Kind = "transition"
	KindConflict     Kind = "conflict"
	KindCollaborator Kind = "collaborator"
	KindNotFound     Kind = "not_found"
	// KindPartial means an irreversible side effect happened before a later step failed.
	KindPartial Kind = "partial"
)

// Error is the failure result of every coordinator operation. Message is safe to show to a
// user; Err keeps the underlying detail for logs.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a coordinator error, or "" for anything else.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func failed(op string, err error) *Error {
	return &Error{Kind: KindCollaborator, Message: op + " failed", Err: err}
}
