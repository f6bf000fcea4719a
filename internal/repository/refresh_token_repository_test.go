package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"TrackerAuth/internal"
	"TrackerAuth/internal/model"
	"TrackerAuth/internal/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(userID, hash string, ttl time.Duration) *model.RefreshToken {
	now := time.Now()
	return &model.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// runRefreshStoreContract checks the rotation rules every backend must obey.
func runRefreshStoreContract(t *testing.T, newStore func(t *testing.T) ports.RefreshTokenRepository, userID func() string) {
	ctx := context.Background()

	t.Run("rotate succeeds once and the old hash then fails", func(t *testing.T) {
		store := newStore(t)
		user := userID()
		require.NoError(t, store.Save(ctx, record(user, "hash-1", time.Hour)))

		require.NoError(t, store.Rotate(ctx, user, "hash-1", record(user, "hash-2", time.Hour)))
		assert.ErrorIs(t, store.Rotate(ctx, user, "hash-1", record(user, "hash-3", time.Hour)), model.ErrRefreshTokenMismatch)

		require.NoError(t, store.Rotate(ctx, user, "hash-2", record(user, "hash-3", time.Hour)))
	})

	t.Run("rotate unknown user", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.Rotate(ctx, userID(), "hash-1", record("x", "hash-2", time.Hour)), model.ErrRefreshTokenNotFound)
	})

	t.Run("save replaces the previous record", func(t *testing.T) {
		store := newStore(t)
		user := userID()
		require.NoError(t, store.Save(ctx, record(user, "first-login", time.Hour)))
		require.NoError(t, store.Save(ctx, record(user, "second-login", time.Hour)))

		assert.ErrorIs(t, store.Rotate(ctx, user, "first-login", record(user, "next", time.Hour)), model.ErrRefreshTokenMismatch)
		assert.NoError(t, store.Rotate(ctx, user, "second-login", record(user, "next", time.Hour)))
	})

	t.Run("delete is idempotent and blocks rotation", func(t *testing.T) {
		store := newStore(t)
		user := userID()
		require.NoError(t, store.Save(ctx, record(user, "hash-1", time.Hour)))

		require.NoError(t, store.Delete(ctx, user))
		require.NoError(t, store.Delete(ctx, user))
		assert.ErrorIs(t, store.Rotate(ctx, user, "hash-1", record(user, "hash-2", time.Hour)), model.ErrRefreshTokenNotFound)
	})

	t.Run("concurrent rotations have a single winner", func(t *testing.T) {
		store := newStore(t)
		user := userID()
		require.NoError(t, store.Save(ctx, record(user, "shared", time.Hour)))

		const workers = 16
		start := make(chan struct{})
		results := make(chan error, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(i int) {
				defer wg.Done()
				<-start
				results <- store.Rotate(ctx, user, "shared", record(user, uuid.NewString(), time.Hour))
			}(i)
		}
		close(start)
		wg.Wait()
		close(results)

		winners := 0
		for err := range results {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, model.ErrRefreshTokenMismatch)
		}
		assert.Equal(t, 1, winners)
	})
}

func TestMemoryRefreshTokenRepository(t *testing.T) {
	runRefreshStoreContract(t, func(t *testing.T) ports.RefreshTokenRepository {
		return NewMemoryRefreshTokenRepository()
	}, uuid.NewString)
}

func TestMemoryRefreshTokenRepository_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryRefreshTokenRepository().WithClock(func() time.Time { return now })

	require.NoError(t, store.Save(ctx, record("u-1", "hash-1", time.Minute)))
	now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, store.Rotate(ctx, "u-1", "hash-1", record("u-1", "hash-2", time.Hour)), model.ErrRefreshTokenExpired)
	_, ok := store.Get("u-1")
	assert.False(t, ok, "expired record is purged")
}

func newRedisStore(t *testing.T) (*RedisRefreshTokenRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisRefreshTokenRepository(rdb, "test:refresh:"), mr
}

func TestRedisRefreshTokenRepository(t *testing.T) {
	runRefreshStoreContract(t, func(t *testing.T) ports.RefreshTokenRepository {
		store, _ := newRedisStore(t)
		return store
	}, uuid.NewString)
}

func TestRedisRefreshTokenRepository_ExpiryViaTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Save(ctx, record("u-1", "hash-1", time.Minute)))
	assert.True(t, mr.Exists("test:refresh:u-1"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, store.Rotate(ctx, "u-1", "hash-1", record("u-1", "hash-2", time.Hour)), model.ErrRefreshTokenNotFound)
}

func TestRedisRefreshTokenRepository_RotateRenewsTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Save(ctx, record("u-1", "hash-1", time.Minute)))
	require.NoError(t, store.Rotate(ctx, "u-1", "hash-1", record("u-1", "hash-2", time.Hour)))

	value, err := mr.Get("test:refresh:u-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", value)
	assert.Greater(t, mr.TTL("test:refresh:u-1"), 50*time.Minute)
}

func TestRedisRefreshTokenRepository_SaveExpiredRecord(t *testing.T) {
	store, _ := newRedisStore(t)
	err := store.Save(context.Background(), record("u-1", "hash-1", -time.Second))
	assert.ErrorIs(t, err, model.ErrRefreshTokenExpired)
}

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresRefreshTokenRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	database, err := internal.NewDatabaseConnection("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate(context.Background()))

	users := NewUserRepository(database)
	newUser := func() string {
		user, err := users.Create(context.Background(), &model.User{
			Username: "pg-" + uuid.NewString(),
			Name:     "Postgres Test",
			Role:     "user",
		}, "password-123")
		require.NoError(t, err)
		return user.ID
	}

	runRefreshStoreContract(t, func(t *testing.T) ports.RefreshTokenRepository {
		return NewRefreshTokenRepository(database)
	}, newUser)
}
