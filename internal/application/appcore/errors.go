package appcore

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the persistence core.
// Every public operation wraps lower-level driver errors into one of these.
var (
	// ErrConnection covers pool exhaustion and I/O failures of the backing store.
	ErrConnection = errors.New("connection error")

	// ErrSerialization is returned when a payload does not decode to the expected
	// shape or no upcasting path exists for a stored event version.
	ErrSerialization = errors.New("serialization error")

	// ErrConcurrencyConflict is returned on version conflict (optimistic locking)
	ErrConcurrencyConflict = errors.New("optimistic concurrency conflict")

	// ErrCommandRejected wraps errors returned by aggregate command handlers.
	ErrCommandRejected = errors.New("command rejected")

	// ErrInvalidConfiguration is returned when a component is wired incorrectly.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// PersistenceError wraps a store or driver error with the failing operation and
// its error kind. errors.Is matches both the kind and the underlying cause.
type PersistenceError struct {
	Op   string
	Kind error
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *PersistenceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewPersistenceError creates a PersistenceError.
// An err that already carries one of the known kinds keeps it instead of kind.
func NewPersistenceError(op string, kind, err error) error {
	for _, known := range []error{ErrConcurrencyConflict, ErrSerialization, ErrConnection} {
		if err != nil && errors.Is(err, known) {
			kind = known
			break
		}
	}
	return &PersistenceError{Op: op, Kind: kind, Err: err}
}

// IsConcurrencyConflict reports whether the caller may reload and retry.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
