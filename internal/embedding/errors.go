package embedding

import (
	"errors"
	"fmt"
)

// EmbeddingError reports that an engine could not produce a usable vector.
// Index is the position in a batch, or -1 for single-text calls.
type EmbeddingError struct {
	Engine string
	Index  int
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("embedding %s: text %d: %v", e.Engine, e.Index, e.Err)
	}
	return fmt.Sprintf("embedding %s: %v", e.Engine, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IsEmbeddingError reports whether err is or wraps an EmbeddingError.
func IsEmbeddingError(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee)
}
