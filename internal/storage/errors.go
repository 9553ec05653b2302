package storage

import "errors"

var (
	// ErrNotFound is returned when a video, job, or segment id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a non-terminal job already exists for a video.
	ErrConflict = errors.New("conflicting active job")
	// ErrStaleTransition is returned when a conditional state update loses the
	// race: the job is no longer in the expected source state.
	ErrStaleTransition = errors.New("stale job state transition")
	// ErrInvalidArgument is returned when request parameters fail validation
	// before any record is written.
	ErrInvalidArgument = errors.New("invalid argument")
)
