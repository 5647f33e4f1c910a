package auth

import "errors"

var (
	// ErrAuthDisabled is returned by JWT/API key operations when no secret or key set
	// has been configured.
	ErrAuthDisabled = errors.New("auth: disabled")
	// ErrInvalidToken is returned when a bearer token fails signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidAPIKey is returned when an API key does not match any configured entry.
	ErrInvalidAPIKey = errors.New("auth: invalid api key")
)
