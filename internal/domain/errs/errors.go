// Package errs holds the business error kinds returned by aggregates.
package errs

import "errors"

var (
	// ErrAlreadyExists is returned when a value is already assigned
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput is returned when command data is invalid
	ErrInvalidInput = errors.New("invalid input")
)
