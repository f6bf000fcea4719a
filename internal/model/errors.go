package model

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	ErrMissingToken = errors.New("missing token")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")

	// ErrRefreshRejected is terminal for the presented refresh credential.
	ErrRefreshRejected = errors.New("refresh rejected")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenMismatch means the presented credential is not the
	// current one for its user, i.e. it was already rotated away.
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")

	ErrForbidden = errors.New("forbidden")
)
