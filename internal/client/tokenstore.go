package client

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore holds the current access token. It is a cache, never the
// credential of record: the refresh cookie is.
type TokenStore interface {
	Get() string
	Set(token string)
	Clear()
}

type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.Set("")
}

// FileTokenStore keeps the token in memory and mirrors it to a 0600 file so
// it survives a restart. Write failures are logged and otherwise ignored.
type FileTokenStore struct {
	path string

	mu    sync.RWMutex
	token string
}

func NewFileTokenStore(path string) *FileTokenStore {
	store := &FileTokenStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		store.token = strings.TrimSpace(string(data))
	case !errors.Is(err, fs.ErrNotExist):
		slog.Warn("read token file", "path", path, "error", err)
	}

	return store
}

func (s *FileTokenStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *FileTokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		slog.Warn("create token directory", "path", s.path, "error", err)
		return
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		slog.Warn("write token file", "path", s.path, "error", err)
	}
}

func (s *FileTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("remove token file", "path", s.path, "error", err)
	}
}
