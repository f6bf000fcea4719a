package client

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing access token")
	ErrExpiredToken       = errors.New("access token expired")
	ErrInvalidToken       = errors.New("invalid access token")

	// ErrRefreshRejected is terminal: the refresh credential is gone, expired
	// or already used. The stored access token is cleared.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrRefreshTransient covers network errors, 5xx and timeouts. The
	// refresh credential may still be valid, so nothing is cleared.
	ErrRefreshTransient = errors.New("refresh temporarily unavailable")

	ErrSessionExpired = errors.New("session expired")
	ErrLoggedOut      = errors.New("logged out")
)

// ValidationError carries a login validation message from the server as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
