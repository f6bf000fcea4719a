package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"TrackerAuth/internal/model"
)

// Session owns the login state. The session view is always derived from the
// stored access token, so clearing the token logs the session out.
type Session struct {
	http        *http.Client
	loginURL    string
	logoutURL   string
	store       TokenStore
	coordinator *Coordinator
	now         func() time.Time

	mu        sync.Mutex
	listeners []func(reason error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Bootstrap restores the session on start. A missing or expired token goes
// through the shared coordinator, so requests fired during startup join the
// same refresh.
func (s *Session) Bootstrap(ctx context.Context) (model.SessionView, error) {
	token := s.store.Get()
	if token != "" && !expired(token, s.now()) {
		return s.view(token)
	}

	token, err := s.coordinator.RequestAfter(ctx, token)
	if err != nil {
		return model.SessionView{}, err
	}
	return s.view(token)
}

// Login exchanges credentials for an access token. Failures leave the stored
// token untouched.
func (s *Session) Login(ctx context.Context, username string, password string) (model.SessionView, error) {
	payload, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return model.SessionView{}, fmt.Errorf("encode login request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(payload))
	if err != nil {
		return model.SessionView{}, fmt.Errorf("build login request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.http.Do(request)
	if err != nil {
		return model.SessionView{}, fmt.Errorf("login: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return model.SessionView{}, ErrInvalidCredentials
	case http.StatusBadRequest:
		var body errorBody
		if err := json.NewDecoder(response.Body).Decode(&body); err != nil || body.Error == "" {
			return model.SessionView{}, &ValidationError{Message: http.StatusText(response.StatusCode)}
		}
		return model.SessionView{}, &ValidationError{Message: body.Error}
	default:
		return model.SessionView{}, fmt.Errorf("login: unexpected status %d", response.StatusCode)
	}

	var body model.AccessTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return model.SessionView{}, fmt.Errorf("decode login response: %w", err)
	}
	view, err := s.view(body.AccessToken)
	if err != nil {
		return model.SessionView{}, fmt.Errorf("login response: %w", err)
	}

	s.store.Set(body.AccessToken)
	return view, nil
}

// Logout ends the session locally whatever the logout endpoint answers, and
// fails any refresh waiters with ErrLoggedOut.
func (s *Session) Logout(ctx context.Context) error {
	s.coordinator.Invalidate(ErrLoggedOut)

	err := s.callLogout(ctx)

	// Also fences flights started while the logout call was outstanding.
	s.coordinator.InvalidateAndClear(ErrLoggedOut)
	s.notify(ErrLoggedOut)

	return err
}

func (s *Session) callLogout(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.logoutURL, nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}

	response, err := s.http.Do(request)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	discard(response)

	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("logout: unexpected status %d", response.StatusCode)
	}
	return nil
}

func (s *Session) View() (model.SessionView, bool) {
	view, err := s.view(s.store.Get())
	return view, err == nil
}

func (s *Session) Authenticated() bool {
	_, ok := s.View()
	return ok
}

// OnLoggedOut registers fn to run whenever the session ends: explicit
// logout, rejected refresh or a session that expired mid-request.
func (s *Session) OnLoggedOut(fn func(reason error)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) end(reason error) {
	if !errors.Is(reason, ErrRefreshRejected) {
		s.store.Clear()
	}
	slog.Info("session ended", "reason", reason)
	s.notify(reason)
}

func (s *Session) notify(reason error) {
	s.mu.Lock()
	listeners := append([]func(error){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

func (s *Session) view(token string) (model.SessionView, error) {
	claims, err := decodeToken(token)
	if err != nil {
		return model.SessionView{}, err
	}
	return claims.View(), nil
}
