package approval

import "errors"

var (
	// ErrNotFound is returned when no request exists for the supplied id.
	ErrNotFound = errors.New("approval: request not found")

	// ErrAlreadyDecided is returned when a decision was already recorded.
	ErrAlreadyDecided = errors.New("approval: request already decided")
)
