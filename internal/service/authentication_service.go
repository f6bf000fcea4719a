package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"TrackerAuth/internal/metrics"
	"TrackerAuth/internal/model"
	"TrackerAuth/internal/ports"
	"TrackerAuth/internal/security"
)

// ClientInfo identifies the caller of a refresh for audit purposes.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type AuthenticationService struct {
	RefreshTokens ports.RefreshTokenRepository
	Users         ports.UserDirectory
	Tokens        ports.TokenIssuerInterface
	Notifier      ports.ReuseNotifier
	Metrics       *metrics.Metrics
}

func NewAuthenticationService(
	refreshTokens ports.RefreshTokenRepository,
	users ports.UserDirectory,
	tokens ports.TokenIssuerInterface,
	notifier ports.ReuseNotifier,
	m *metrics.Metrics,
) *AuthenticationService {
	if m == nil {
		m = metrics.New()
	}
	return &AuthenticationService{
		RefreshTokens: refreshTokens,
		Users:         users,
		Tokens:        tokens,
		Notifier:      notifier,
		Metrics:       m,
	}
}

func (service *AuthenticationService) Login(ctx context.Context, username string, password string) (*model.IssuedTokens, error) {
	user, err := service.Users.VerifyCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			service.Metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
			return nil, model.ErrInvalidCredentials
		}
		service.Metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("ошибка проверки учетных данных: %w", err)
	}

	issued, record, err := service.issue(user)
	if err != nil {
		service.Metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	if err := service.RefreshTokens.Save(ctx, record); err != nil {
		service.Metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("ошибка сохранения refresh токена: %w", err)
	}

	service.Metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	slog.InfoContext(ctx, "user logged in", "user_id", user.ID, "role", user.Role)
	return issued, nil
}

// Refresh always rotates: the presented credential is dead once this returns,
// whatever the outcome. Errors wrapping model.ErrRefreshRejected are terminal
// for the client; anything else is a server fault.
func (service *AuthenticationService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*model.IssuedTokens, error) {
	started := time.Now()
	defer func() {
		service.Metrics.RefreshLatency.Observe(time.Since(started).Seconds())
	}()

	claims, err := service.Tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
	}
	userID := claims.Subject

	user, err := service.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			service.Metrics.Refreshes.WithLabelValues(metrics.ResultRejected).Inc()
			_ = service.RefreshTokens.Delete(ctx, userID)
			return nil, fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
		}
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}

	issued, record, err := service.issue(user)
	if err != nil {
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	err = service.RefreshTokens.Rotate(ctx, user.ID, security.HashToken(refreshToken), record)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrRefreshTokenMismatch):
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultRejected).Inc()
		service.Metrics.RefreshReuse.Inc()
		slog.WarnContext(ctx, "rotated refresh token presented again",
			"user_id", user.ID, "ip", client.IPAddress, "user_agent", client.UserAgent)
		if service.Notifier != nil {
			service.Notifier.NotifyRefreshReuse(ctx, user.ID, client.IPAddress, client.UserAgent)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
	case errors.Is(err, model.ErrRefreshTokenNotFound), errors.Is(err, model.ErrRefreshTokenExpired):
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrRefreshRejected, err)
	default:
		service.Metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("не удалось обновить refresh токен: %w", err)
	}

	service.Metrics.Refreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	slog.DebugContext(ctx, "refresh token rotated", "user_id", user.ID)
	return issued, nil
}

// Logout drops the stored record of whoever owns refreshToken. A missing,
// expired or forged credential has nothing to invalidate and is not an error.
func (service *AuthenticationService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	claims, err := service.Tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		slog.DebugContext(ctx, "logout with unusable refresh token", "error", err)
		return nil
	}

	if err := service.RefreshTokens.Delete(ctx, claims.Subject); err != nil {
		return fmt.Errorf("ошибка удаления refresh токена: %w", err)
	}

	service.Metrics.Logouts.Inc()
	slog.InfoContext(ctx, "user logged out", "user_id", claims.Subject)
	return nil
}

func (service *AuthenticationService) issue(user *model.User) (*model.IssuedTokens, *model.RefreshToken, error) {
	accessToken, accessClaims, err := service.Tokens.IssueAccessToken(user)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка генерации access токена: %w", err)
	}

	refreshToken, refreshClaims, err := service.Tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка генерации refresh токена: %w", err)
	}

	record := &model.RefreshToken{
		UserID:    user.ID,
		TokenHash: security.HashToken(refreshToken),
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: refreshClaims.IssuedAt.Time,
	}

	return &model.IssuedTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		User:             user,
	}, record, nil
}
