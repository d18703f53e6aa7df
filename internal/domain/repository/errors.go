package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when inserting a record whose id already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when a source has no usable value right now.
	ErrUnavailable = errors.New("unavailable")
)
