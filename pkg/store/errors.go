package store

import "errors"

// Common errors shared by the domain packages built on the store.
var (
	// ErrNotFound is returned when a row is absent or not owned by the
	// caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")
)
