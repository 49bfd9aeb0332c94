package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrFilterRequired is returned by ListRuns when the filter is empty.
	// Listing everything unfiltered is intentionally unsupported.
	ErrFilterRequired = errors.New("storage: run filter requires at least one field")

	// ErrActorConflict is returned when a run that already has an actor is
	// attached a different one. The actor is attached at most once per run.
	ErrActorConflict = errors.New("storage: run already has a different actor")
)
