package repository

import (
	"context"
	"sync"
	"time"

	"TrackerAuth/internal/model"
)

// MemoryRefreshTokenRepository хранит refresh токены в памяти процесса.
// Для разработки и тестов, между инстансами не разделяется.
type MemoryRefreshTokenRepository struct {
	mu      sync.Mutex
	records map[string]model.RefreshToken
	now     func() time.Time
}

func NewMemoryRefreshTokenRepository() *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{
		records: make(map[string]model.RefreshToken),
		now:     time.Now,
	}
}

// WithClock подменяет источник времени в тестах.
func (repository *MemoryRefreshTokenRepository) WithClock(now func() time.Time) *MemoryRefreshTokenRepository {
	repository.now = now
	return repository
}

func (repository *MemoryRefreshTokenRepository) Save(_ context.Context, token *model.RefreshToken) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	repository.records[token.UserID] = *token
	return nil
}

func (repository *MemoryRefreshTokenRepository) Rotate(_ context.Context, userID string, oldHash string, next *model.RefreshToken) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	stored, ok := repository.records[userID]
	if !ok {
		return model.ErrRefreshTokenNotFound
	}
	if stored.TokenHash != oldHash {
		return model.ErrRefreshTokenMismatch
	}
	if stored.Expired(repository.now()) {
		delete(repository.records, userID)
		return model.ErrRefreshTokenExpired
	}

	record := *next
	record.UserID = userID
	repository.records[userID] = record
	return nil
}

func (repository *MemoryRefreshTokenRepository) Delete(_ context.Context, userID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	delete(repository.records, userID)
	return nil
}

// Get возвращает копию сохраненной записи.
func (repository *MemoryRefreshTokenRepository) Get(userID string) (model.RefreshToken, bool) {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	record, ok := repository.records[userID]
	return record, ok
}
