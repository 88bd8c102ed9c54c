// Package apperr defines the error taxonomy shared across Mindloom.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoStructure is returned by the markdown parser when the input
	// contains no heading and no list item. Recoverable: callers keep the
	// previous in-memory tree and surface a warning.
	ErrNoStructure = errors.New("markdown contains no heading or list item")
)

// ConversionError reports a node retype or serialize operation that cannot
// represent the requested shape. The tree is never left partially mutated
// when one of these is returned.
type ConversionError struct {
	Op     string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion %s: %s", e.Op, e.Reason)
}
