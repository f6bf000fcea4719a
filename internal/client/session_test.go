package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearRaceStore lets a pending refresh finish while Clear is running and
// gives it a short window to store its token before clearing.
type clearRaceStore struct {
	*MemoryTokenStore
	onClear func()
	stored  chan struct{}
}

func (s *clearRaceStore) Set(token string) {
	s.MemoryTokenStore.Set(token)
	select {
	case s.stored <- struct{}{}:
	default:
	}
}

func (s *clearRaceStore) Clear() {
	if s.onClear != nil {
		s.onClear()
		select {
		case <-s.stored:
		case <-time.After(200 * time.Millisecond):
		}
	}
	s.MemoryTokenStore.Clear()
}

func TestSession_LogoutFencesRefreshStartedDuringLogoutCall(t *testing.T) {
	logoutStarted := make(chan struct{})
	logoutRelease := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(logoutStarted)
		<-logoutRelease
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	refresher := newGatedRefresher()
	store := &clearRaceStore{MemoryTokenStore: NewMemoryTokenStore(), stored: make(chan struct{}, 1)}
	store.MemoryTokenStore.Set(makeToken(t, "u-1", time.Now().Add(15*time.Minute)))
	coordinator := NewCoordinator(refresher, store)
	session := &Session{
		http:        srv.Client(),
		logoutURL:   srv.URL + "/api/logout",
		store:       store,
		coordinator: coordinator,
		now:         time.Now,
	}

	fresh := makeToken(t, "u-1", time.Now().Add(30*time.Minute))
	store.onClear = func() {
		go refresher.release(fresh, nil)
	}

	loggedOut := make(chan error, 1)
	go func() { loggedOut <- session.Logout(context.Background()) }()
	<-logoutStarted

	requested := make(chan error, 1)
	go func() {
		_, err := coordinator.Request(context.Background())
		requested <- err
	}()
	waitStarted(t, refresher)

	close(logoutRelease)
	require.NoError(t, <-loggedOut)
	assert.ErrorIs(t, <-requested, ErrLoggedOut)

	require.Eventually(t, func() bool { return !coordinator.refreshing() }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, store.Get())
	assert.False(t, session.Authenticated())
}
