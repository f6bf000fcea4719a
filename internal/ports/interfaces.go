package ports

import (
	"context"

	"TrackerAuth/internal/model"
	"TrackerAuth/internal/security"
)

// RefreshTokenRepository keeps exactly one refresh record per user.
type RefreshTokenRepository interface {
	// Save replaces any existing record for token.UserID.
	Save(ctx context.Context, token *model.RefreshToken) error
	// Rotate atomically swaps the record for userID from oldHash to next.
	// It fails with model.ErrRefreshTokenNotFound, model.ErrRefreshTokenMismatch
	// or model.ErrRefreshTokenExpired and leaves the record untouched.
	Rotate(ctx context.Context, userID string, oldHash string, next *model.RefreshToken) error
	Delete(ctx context.Context, userID string) error
}

// UserDirectory is the read side of the user store.
type UserDirectory interface {
	VerifyCredentials(ctx context.Context, username string, password string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
}

type TokenIssuerInterface interface {
	IssueAccessToken(user *model.User) (string, *security.AccessClaims, error)
	IssueRefreshToken(user *model.User) (string, *security.RefreshClaims, error)
	VerifyRefreshToken(token string) (*security.RefreshClaims, error)
}

// ReuseNotifier is told when a rotated-away refresh credential is replayed.
type ReuseNotifier interface {
	NotifyRefreshReuse(ctx context.Context, userID string, ipAddress string, userAgent string)
}
