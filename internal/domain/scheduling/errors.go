package scheduling

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a scheduling failure for callers and the HTTP layer.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindInvalidRequest         Kind = "invalid_request"
	KindAuthorization          Kind = "authorization_error"
	KindNotFound               Kind = "not_found"
	KindSlotUnavailable        Kind = "slot_unavailable"
	KindConflict               Kind = "conflict"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindUnavailable            Kind = "unavailable"
	KindDataUnavailable        Kind = "data_unavailable"
)

// Error is the single error type returned by Service operations.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	From    Status
	To      Status
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
	ErrAuthorization          = &Error{Kind: KindAuthorization}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrSlotUnavailable        = &Error{Kind: KindSlotUnavailable}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrUnavailable            = &Error{Kind: KindUnavailable}
	ErrDataUnavailable        = &Error{Kind: KindDataUnavailable}
)

// KindOf reports the kind of err, or "" if err is not a scheduling error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func validationError(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalidRequest(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Field: field, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func transitionError(from, to Status) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
	}
}

// unavailable wraps a collaborator failure. Errors that are already
// scheduling errors pass through untouched.
func unavailable(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	msg := op + " failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = op + " timed out"
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}
