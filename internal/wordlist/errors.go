package wordlist

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no record matches the given key.
var ErrNotFound = errors.New("word list record not found")

// BadFormatError represents a metadata feed or payload that does not match
// the expected schema or checksum.
type BadFormatError struct {
	Reason string // Human-readable explanation of what was malformed
	Err    error  // Underlying error, if any
}

func (e *BadFormatError) Error() string {
	return fmt.Sprintf("bad format: %s", e.Reason)
}

func (e *BadFormatError) Unwrap() error {
	return e.Err
}

// TransportError represents a download transport that is unavailable or
// returned a hard failure.
type TransportError struct {
	Operation string // The operation that failed (e.g., "enqueue", "open_payload")
	Err       error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s", e.Operation)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
