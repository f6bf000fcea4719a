package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := &Claims{
		UserID:   userID,
		Username: "alice",
		Name:     "Alice",
		Role:     "user",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-15 * time.Minute)),
			ID:        time.Now().Format(time.RFC3339Nano),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("client-test"))
	require.NoError(t, err)
	return token
}

// gatedRefresher blocks every call until the test hands it a result.
type gatedRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	results chan refreshResult
}

func newGatedRefresher() *gatedRefresher {
	return &gatedRefresher{
		started: make(chan struct{}, 16),
		results: make(chan refreshResult),
	}
}

func (r *gatedRefresher) Refresh(ctx context.Context) (string, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case result := <-r.results:
		return result.token, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *gatedRefresher) release(token string, err error) {
	r.results <- refreshResult{token: token, err: err}
}

func waitStarted(t *testing.T, r *gatedRefresher) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not started")
	}
}

type outcome struct {
	token string
	err   error
}

func requestAll(c *Coordinator, n int) (*sync.WaitGroup, []outcome) {
	outcomes := make([]outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := c.Request(context.Background())
			outcomes[i] = outcome{token: token, err: err}
		}(i)
	}
	return &wg, outcomes
}

func TestCoordinator_SingleFlightSharesToken(t *testing.T) {
	store := NewMemoryTokenStore()
	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	wg, outcomes := requestAll(c, 10)
	waitStarted(t, refresher)
	require.Eventually(t, func() bool { return c.pending() == 10 }, 2*time.Second, 5*time.Millisecond)

	fresh := makeToken(t, "u-1", time.Now().Add(15*time.Minute))
	refresher.release(fresh, nil)
	wg.Wait()

	assert.EqualValues(t, 1, refresher.calls.Load())
	for _, o := range outcomes {
		require.NoError(t, o.err)
		assert.Equal(t, fresh, o.token)
	}
	assert.Equal(t, fresh, store.Get())
	assert.False(t, c.refreshing())
}

func TestCoordinator_RejectionClearsStoreAndNotifies(t *testing.T) {
	store := NewMemoryTokenStore()
	store.Set(makeToken(t, "u-1", time.Now().Add(-time.Second)))
	refresher := newGatedRefresher()

	var hookCalls atomic.Int32
	c := NewCoordinator(refresher, store, WithOnRejected(func(err error) {
		assert.ErrorIs(t, err, ErrRefreshRejected)
		assert.Empty(t, store.Get())
		hookCalls.Add(1)
	}))

	wg, outcomes := requestAll(c, 3)
	waitStarted(t, refresher)
	require.Eventually(t, func() bool { return c.pending() == 3 }, 2*time.Second, 5*time.Millisecond)

	refresher.release("", errors.Join(ErrRefreshRejected, errors.New("status 403")))
	wg.Wait()

	for _, o := range outcomes {
		assert.ErrorIs(t, o.err, ErrRefreshRejected)
		assert.Empty(t, o.token)
	}
	assert.Empty(t, store.Get())
	require.Eventually(t, func() bool { return hookCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_TransientFailureKeepsToken(t *testing.T) {
	stale := makeToken(t, "u-1", time.Now().Add(-time.Second))
	store := NewMemoryTokenStore()
	store.Set(stale)

	hookCalled := false
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		return "", errors.New("connection refused")
	}), store, WithOnRejected(func(error) { hookCalled = true }))

	_, err := c.Request(context.Background())
	require.ErrorIs(t, err, ErrRefreshTransient)
	assert.NotErrorIs(t, err, ErrRefreshRejected)
	assert.Equal(t, stale, store.Get())
	assert.False(t, hookCalled)
}

func TestCoordinator_TimeoutIsTransient(t *testing.T) {
	store := NewMemoryTokenStore()
	c := NewCoordinator(RefresherFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), store, WithRefreshTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.Request(context.Background())
	require.ErrorIs(t, err, ErrRefreshTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.refreshing())
}

func TestCoordinator_EmptyTokenIsRejected(t *testing.T) {
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		return "", nil
	}), NewMemoryTokenStore())

	_, err := c.Request(context.Background())
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestCoordinator_InvalidateDiscardsLateResult(t *testing.T) {
	stale := makeToken(t, "u-1", time.Now().Add(-time.Second))
	store := NewMemoryTokenStore()
	store.Set(stale)
	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	wg, outcomes := requestAll(c, 2)
	waitStarted(t, refresher)
	require.Eventually(t, func() bool { return c.pending() == 2 }, 2*time.Second, 5*time.Millisecond)

	c.Invalidate(ErrLoggedOut)
	wg.Wait()
	for _, o := range outcomes {
		assert.ErrorIs(t, o.err, ErrLoggedOut)
	}

	// The flight still counts until it returns.
	assert.True(t, c.refreshing())

	refresher.release(makeToken(t, "u-1", time.Now().Add(15*time.Minute)), nil)
	require.Eventually(t, func() bool { return !c.refreshing() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, stale, store.Get())
	assert.EqualValues(t, 1, refresher.calls.Load())
}

func TestCoordinator_WaitersAfterInvalidateGetFreshFlight(t *testing.T) {
	store := NewMemoryTokenStore()
	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	first, _ := requestAll(c, 1)
	waitStarted(t, refresher)
	c.Invalidate(ErrLoggedOut)
	first.Wait()

	second, outcomes := requestAll(c, 1)
	require.Eventually(t, func() bool { return c.pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, refresher.calls.Load())

	refresher.release(makeToken(t, "old-epoch", time.Now().Add(15*time.Minute)), nil)
	waitStarted(t, refresher)

	fresh := makeToken(t, "new-epoch", time.Now().Add(15*time.Minute))
	refresher.release(fresh, nil)
	second.Wait()

	require.NoError(t, outcomes[0].err)
	assert.Equal(t, fresh, outcomes[0].token)
	assert.Equal(t, fresh, store.Get())
	assert.EqualValues(t, 2, refresher.calls.Load())
}

func TestCoordinator_RequestAfterReusesNewerToken(t *testing.T) {
	stale := makeToken(t, "u-1", time.Now().Add(-time.Second))
	newer := makeToken(t, "u-1", time.Now().Add(15*time.Minute))
	store := NewMemoryTokenStore()
	store.Set(newer)

	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	token, err := c.RequestAfter(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, newer, token)
	assert.EqualValues(t, 0, refresher.calls.Load())
}

func TestCoordinator_RequestAfterRefreshesWhenStoreIsStale(t *testing.T) {
	stale := makeToken(t, "u-1", time.Now().Add(-time.Second))
	store := NewMemoryTokenStore()
	store.Set(stale)

	fresh := makeToken(t, "u-1", time.Now().Add(15*time.Minute))
	var calls atomic.Int32
	c := NewCoordinator(RefresherFunc(func(context.Context) (string, error) {
		calls.Add(1)
		return fresh, nil
	}), store)

	token, err := c.RequestAfter(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCoordinator_CallerCancellationLeavesFlightRunning(t *testing.T) {
	store := NewMemoryTokenStore()
	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx)
		cancelled <- err
	}()
	waitStarted(t, refresher)

	patient, outcomes := requestAll(c, 1)
	require.Eventually(t, func() bool { return c.pending() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	fresh := makeToken(t, "u-1", time.Now().Add(15*time.Minute))
	refresher.release(fresh, nil)
	patient.Wait()

	require.NoError(t, outcomes[0].err)
	assert.Equal(t, fresh, outcomes[0].token)
	assert.EqualValues(t, 1, refresher.calls.Load())
}

func TestCoordinator_InvalidateAndClear(t *testing.T) {
	store := NewMemoryTokenStore()
	store.Set(makeToken(t, "u-1", time.Now().Add(15*time.Minute)))
	refresher := newGatedRefresher()
	c := NewCoordinator(refresher, store)

	wg, outcomes := requestAll(c, 1)
	waitStarted(t, refresher)

	c.InvalidateAndClear(ErrLoggedOut)
	wg.Wait()
	assert.ErrorIs(t, outcomes[0].err, ErrLoggedOut)
	assert.Empty(t, store.Get())

	refresher.release(makeToken(t, "u-1", time.Now().Add(30*time.Minute)), nil)
	require.Eventually(t, func() bool { return !c.refreshing() }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, store.Get())
}
