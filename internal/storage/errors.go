package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleStatus is returned by a conditional status update whose
	// expected status no longer matches the stored row.
	ErrStaleStatus = errors.New("stale status: trade changed since it was read")

	// ErrSlowConsumer ends a feed subscription whose buffer filled up.
	ErrSlowConsumer = errors.New("change feed subscriber fell behind")

	// ErrFeedClosed is returned when subscribing to a stopped feed.
	ErrFeedClosed = errors.New("change feed closed")
)
