package sos

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so transports can map them to stable outcomes.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthenticated
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

const (
	CodeRequestNotFound = "REQUEST_NOT_FOUND"
	CodeEntryNotFound   = "DONOR_ENTRY_NOT_FOUND"
	CodeRequestClosed   = "REQUEST_CLOSED"
	CodeAlreadyAccepted = "ALREADY_ACCEPTED"
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeServerError     = "SERVER_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, or KindInternal for anything untyped.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an engine error of kind.
func IsKind(err error, kind Kind) bool {
	var engineErr *Error
	return errors.As(err, &engineErr) && engineErr.Kind == kind
}

func errRequestNotFound() *Error {
	return &Error{Kind: KindNotFound, Code: CodeRequestNotFound, Message: "SOS not found"}
}

func errEntryNotFound() *Error {
	return &Error{Kind: KindNotFound, Code: CodeEntryNotFound, Message: "Donor not found in this request"}
}

func errClosed() *Error {
	return &Error{Kind: KindConflict, Code: CodeRequestClosed, Message: "SOS already closed"}
}

func errAlreadyAccepted() *Error {
	return &Error{Kind: KindConflict, Code: CodeAlreadyAccepted, Message: "Already accepted this SOS"}
}

func errForbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

func errUnauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: "Authentication required"}
}

func errInvalid(message string) *Error {
	return &Error{Kind: KindInvalid, Code: CodeInvalidInput, Message: message}
}

func errInternal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeServerError, Message: op + " failed", Err: err}
}
