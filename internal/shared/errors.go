package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingActor occurs when a mutating call carries no actor identity.
	ErrMissingActor = errors.New("actor identity required")
)
