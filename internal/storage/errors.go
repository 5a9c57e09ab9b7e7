package storage

import "errors"

// Storage errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already
	// exists in a store that does not replace on conflict (alerts, triggers,
	// jobs). Candle upserts never return it: they replace.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTerminalStatus is returned when attempting to transition a backfill
	// job out of a terminal status.
	ErrTerminalStatus = errors.New("job already in terminal status")
)
