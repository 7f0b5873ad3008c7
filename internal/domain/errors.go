package domain

import "errors"

var (
	// ErrValidation marks malformed or incomplete caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition refused by a concurrent update.
	ErrConflict = errors.New("conflict")
	// ErrNoTargets marks an event that resolved to an empty target set.
	ErrNoTargets = errors.New("no delivery targets")
)
