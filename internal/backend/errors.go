package backend

import "errors"

// Backend errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrNotFound           = errors.New("row not found")
	ErrNoSession          = errors.New("no active session")
	ErrRateLimited        = errors.New("too many sign-in attempts")
)

// ErrConstraint reports a relational integrity violation (foreign key or uniqueness).
var ErrConstraint = errors.New("constraint violation")
