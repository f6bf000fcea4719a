package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrackerAuth/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// Просроченные записи удаляются по TTL ключа, поэтому просроченный токен
// возвращается как не найденный.
const rotateRefreshScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 3
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// RedisRefreshTokenRepository хранит по одному ключу на пользователя с хешем
// текущего refresh токена.
type RedisRefreshTokenRepository struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisRefreshTokenRepository(client *redis.Client, prefix string) *RedisRefreshTokenRepository {
	if prefix == "" {
		prefix = "refresh:"
	}
	return &RedisRefreshTokenRepository{client: client, prefix: prefix, now: time.Now}
}

func (repository *RedisRefreshTokenRepository) key(userID string) string {
	return repository.prefix + userID
}

func (repository *RedisRefreshTokenRepository) Save(ctx context.Context, token *model.RefreshToken) error {
	ttl := token.ExpiresAt.Sub(repository.now())
	if ttl <= 0 {
		return model.ErrRefreshTokenExpired
	}
	if err := repository.client.Set(ctx, repository.key(token.UserID), token.TokenHash, ttl).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения refresh токена: %w", err)
	}
	return nil
}

func (repository *RedisRefreshTokenRepository) Rotate(ctx context.Context, userID string, oldHash string, next *model.RefreshToken) error {
	ttl := next.ExpiresAt.Sub(repository.now())
	if ttl <= 0 {
		return model.ErrRefreshTokenExpired
	}

	status, err := rotateRefreshLua.Run(ctx, repository.client,
		[]string{repository.key(userID)},
		oldHash, next.TokenHash, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("не удалось обновить refresh токен: %w", err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusMismatch:
		return model.ErrRefreshTokenMismatch
	case rotateStatusNotFound:
		return model.ErrRefreshTokenNotFound
	default:
		return fmt.Errorf("не удалось обновить refresh токен: неожиданный статус %d", status)
	}
}

func (repository *RedisRefreshTokenRepository) Delete(ctx context.Context, userID string) error {
	err := repository.client.Del(ctx, repository.key(userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ошибка удаления refresh токена: %w", err)
	}
	return nil
}
