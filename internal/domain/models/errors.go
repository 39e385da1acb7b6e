package models

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence failed")

	// ErrCounterDrained marks a forced counter that was already zero in storage.
	ErrCounterDrained = errors.New("counter already drained")
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "VALIDATION"
	KindNotFound    ErrorKind = "NOT_FOUND"
	KindConflict    ErrorKind = "CONFLICT"
	KindPersistence ErrorKind = "PERSISTENCE"
)

// Error is a domain error with a kind the transport layer can map.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPersistence:
		return e.Kind == KindPersistence
	}
	return false
}

func ValidationErrorf(field, format string, a ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, a...)}
}

func NotFoundErrorf(format string, a ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, a...)}
}

func ConflictErrorf(format string, a ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, a...)}
}

// PersistenceError wraps a storage failure of op.
func PersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}
