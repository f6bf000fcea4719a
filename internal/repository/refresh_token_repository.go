package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TrackerAuth/internal"
	"TrackerAuth/internal/model"
)

// RefreshTokenRepository хранит refresh токены в Postgres. Ротация выполняется
// одним условным UPDATE, два параллельных обновления одним токеном
// не могут пройти оба.
type RefreshTokenRepository struct {
	*internal.Database
	now func() time.Time
}

func NewRefreshTokenRepository(database *internal.Database) *RefreshTokenRepository {
	return &RefreshTokenRepository{Database: database, now: time.Now}
}

func (repository *RefreshTokenRepository) Save(ctx context.Context, token *model.RefreshToken) error {
	query := `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
			  VALUES (:user_id, :token_hash, :expires_at, :created_at)
			  ON CONFLICT (user_id) DO UPDATE
			  SET token_hash = EXCLUDED.token_hash,
			      expires_at = EXCLUDED.expires_at,
			      created_at = EXCLUDED.created_at`

	if _, err := repository.DB.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("ошибка сохранения refresh токена: %w", err)
	}
	return nil
}

func (repository *RefreshTokenRepository) Rotate(ctx context.Context, userID string, oldHash string, next *model.RefreshToken) error {
	query := `UPDATE refresh_tokens
			  SET token_hash = $3, expires_at = $4, created_at = $5
			  WHERE user_id = $1 AND token_hash = $2 AND expires_at > $6`

	result, err := repository.DB.ExecContext(ctx, query,
		userID, oldHash, next.TokenHash, next.ExpiresAt, next.CreatedAt, repository.now())
	if err != nil {
		return fmt.Errorf("не удалось обновить refresh токен: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("не удалось проверить, обновлен ли refresh токен: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	return repository.classifyRotateFailure(ctx, userID, oldHash)
}

// classifyRotateFailure только объясняет, почему UPDATE не сработал, и ничего не пишет.
func (repository *RefreshTokenRepository) classifyRotateFailure(ctx context.Context, userID string, oldHash string) error {
	var stored model.RefreshToken
	query := `SELECT user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE user_id = $1`

	err := repository.DB.GetContext(ctx, &stored, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrRefreshTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("не удалось найти refresh токен: %w", err)
	}
	if stored.TokenHash != oldHash {
		return model.ErrRefreshTokenMismatch
	}
	return model.ErrRefreshTokenExpired
}

func (repository *RefreshTokenRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`
	if _, err := repository.DB.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("ошибка удаления refresh токена: %w", err)
	}
	return nil
}
