package catalog

import "errors"

var (
	// ErrIndexNotFound is returned when a named index is not registered.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexBackfilling is returned when a named index exists but is
	// still backfilling and cannot serve queries.
	ErrIndexBackfilling = errors.New("index is currently backfilling")
)
