package loop

import (
	"errors"
	"fmt"
)

// CycleError is a failure that escaped a cycle, including recovered panics.
// It never stops the loop; it triggers backoff.
type CycleError struct {
	Cycle int    // 1-based cycle number that was attempted
	Err   error
	Stack string // goroutine stack where the failure left the cycle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %d: %v", e.Cycle, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// IsCycleError reports whether err is or wraps a CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
