package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"TrackerAuth/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// exp survives the float64 round trip of a fractional NumericDate only to
// within one millisecond, hence the two millisecond step.
const (
	expiryStep         = 2 * time.Millisecond
	maxTrackedExpiries = 10000
)

func init() {
	jwt.TimePrecision = time.Millisecond
}

// AccessClaims is the claim set of an access token: {id, username, name, role, iat, exp}.
type AccessClaims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) View() model.SessionView {
	return model.SessionView{
		ID:       c.UserID,
		Username: c.Username,
		Name:     c.Name,
		Role:     c.Role,
	}
}

// RefreshClaims carries the user id in sub and a random jti so two
// credentials issued in the same second never collide.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time

	mu         sync.Mutex
	lastExpiry map[string]time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
		lastExpiry:    make(map[string]time.Time),
	}
}

// WithClock replaces the time source. Used by tests.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

func (i *TokenIssuer) Now() time.Time {
	return i.now()
}

func (i *TokenIssuer) IssueAccessToken(user *model.User) (string, *AccessClaims, error) {
	now := i.now()
	claims := &AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Name:     user.Name,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(i.nextAccessExpiry(user.ID, now)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка подписи access токена: %w", err)
	}
	return token, claims, nil
}

// nextAccessExpiry keeps every user's access token exp strictly increasing,
// also for tokens issued within the same clock tick.
func (i *TokenIssuer) nextAccessExpiry(userID string, now time.Time) time.Time {
	expiresAt := now.Add(i.accessTTL).Truncate(jwt.TimePrecision)

	i.mu.Lock()
	defer i.mu.Unlock()

	if last, ok := i.lastExpiry[userID]; ok && expiresAt.Before(last.Add(expiryStep)) {
		expiresAt = last.Add(expiryStep)
	}
	if len(i.lastExpiry) >= maxTrackedExpiries {
		for id, last := range i.lastExpiry {
			if last.Before(now) {
				delete(i.lastExpiry, id)
			}
		}
	}
	i.lastExpiry[userID] = expiresAt
	return expiresAt
}

func (i *TokenIssuer) IssueRefreshToken(user *model.User) (string, *RefreshClaims, error) {
	now := i.now()
	claims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка подписи refresh токена: %w", err)
	}
	return token, claims, nil
}

func (i *TokenIssuer) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenStr, claims, i.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing id claim", model.ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) VerifyRefreshToken(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(tokenStr, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", model.ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	if tokenStr == "" {
		return model.ErrMissingToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		options = append(options, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", model.ErrExpiredToken, err)
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.ErrInvalidToken
	}
	return nil
}

// HashToken is the storage form of a refresh credential.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
