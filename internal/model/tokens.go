package model

import "time"

// RefreshToken is the single stored refresh record for a user. The raw
// credential never reaches storage, only its SHA-256 hex digest.
type RefreshToken struct {
	UserID    string    `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IssuedTokens is what login and refresh hand back to the transport layer.
// The refresh credential travels only in the cookie.
type IssuedTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *User
}

// AccessTokenResponse is the JSON body of /login and /refresh.
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}
