package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation on a closed Store.
var ErrClosed = errors.New("store: closed")

// ConstraintError reports a write that would violate a store invariant:
// an unknown document, a vector of the wrong dimension or norm, or a
// duplicate passage position. Nothing is written when it is returned.
type ConstraintError struct {
	Op     string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("store: %s: %s", e.Op, e.Reason)
}

func constraint(op, format string, args ...interface{}) *ConstraintError {
	return &ConstraintError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsConstraintError reports whether err is or wraps a ConstraintError.
func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
