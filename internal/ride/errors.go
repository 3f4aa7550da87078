package ride

import "errors"

// Registry operations fail with exactly one of these sentinels,
// wrapped with context. Callers classify with errors.Is; the HTTP
// layer maps each to a status code.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("ride not found")
	ErrForbidden         = errors.New("requester is not a party to the ride")
	ErrConflict          = errors.New("conflicting concurrent transition")
	ErrInvalidTransition = errors.New("transition not permitted from current status")
)
