package entity

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned when a server record cannot be reconciled.
// The store is left untouched.
var ErrInvalidRecord = errors.New("invalid user record")

// ErrNotFound is returned by administrative removals of unknown entities.
var ErrNotFound = errors.New("entity not found")

// UsageError signals a caller defect: duplicate creation, an update whose
// record id disagrees with its target, or an invalid pending action. Store
// methods panic with a *UsageError; it is meant to surface in development
// and tests, never to be handled at runtime.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return "entity: usage error: " + e.Msg
}

func usagef(format string, args ...any) *UsageError {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
