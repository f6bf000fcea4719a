package client

import (
	"fmt"
	"time"

	"TrackerAuth/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the access token payload. The client cannot verify the
// signature, it only reads identity and expiry.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) View() model.SessionView {
	return model.SessionView{
		ID:       c.UserID,
		Username: c.Username,
		Name:     c.Name,
		Role:     c.Role,
	}
}

// Access tokens carry a millisecond exp; keep it when decoding.
func init() {
	jwt.TimePrecision = time.Millisecond
}

func decodeToken(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: no exp claim", ErrInvalidToken)
	}

	return claims, nil
}

// expired reports whether token must be refreshed before use. Undecodable
// tokens count as expired.
func expired(token string, now time.Time) bool {
	claims, err := decodeToken(token)
	if err != nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}
