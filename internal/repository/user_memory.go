package repository

import (
	"context"
	"sync"

	"TrackerAuth/internal/model"

	"golang.org/x/crypto/bcrypt"
)

type MemoryUserDirectory struct {
	mu         sync.RWMutex
	byID       map[string]*model.User
	byUsername map[string]*model.User
}

// NewMemoryUserDirectory ожидает пользователей с уже заполненным PasswordHash.
func NewMemoryUserDirectory(users ...*model.User) *MemoryUserDirectory {
	directory := &MemoryUserDirectory{
		byID:       make(map[string]*model.User, len(users)),
		byUsername: make(map[string]*model.User, len(users)),
	}
	for _, user := range users {
		directory.Add(user)
	}
	return directory
}

func (directory *MemoryUserDirectory) Add(user *model.User) {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	copied := *user
	directory.byID[user.ID] = &copied
	directory.byUsername[user.Username] = &copied
}

func (directory *MemoryUserDirectory) VerifyCredentials(_ context.Context, username string, password string) (*model.User, error) {
	directory.mu.RLock()
	user, ok := directory.byUsername[username]
	directory.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, model.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	copied := *user
	return &copied, nil
}

func (directory *MemoryUserDirectory) FindByID(_ context.Context, id string) (*model.User, error) {
	directory.mu.RLock()
	defer directory.mu.RUnlock()

	user, ok := directory.byID[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}
