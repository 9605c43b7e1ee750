package session

import "errors"

// Session errors.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidSignUp   = errors.New("invalid sign-up data")
	ErrLoginFailed     = errors.New("login failed")
	ErrRegisterFailed  = errors.New("registration failed")
	ErrClosed          = errors.New("session store closed")
)
