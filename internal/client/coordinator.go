package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRefreshTimeout = 10 * time.Second

// Refresher performs the network refresh call. It returns an error wrapping
// ErrRefreshRejected when the server refuses the refresh credential; any
// other error is treated as transient.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type RefresherFunc func(ctx context.Context) (string, error)

func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}

type refreshResult struct {
	token string
	err   error
}

// Coordinator deduplicates refresh attempts. Callers arriving while a refresh
// is in flight wait for that flight instead of starting their own, and every
// waiter of one flight receives the same outcome.
type Coordinator struct {
	refresher  Refresher
	store      TokenStore
	timeout    time.Duration
	now        func() time.Time
	onRejected func(err error)

	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
	epoch    uint64
}

type CoordinatorOption func(*Coordinator)

func WithRefreshTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithOnRejected registers a hook run after a terminal rejection has cleared
// the token store and failed every waiter.
func WithOnRejected(fn func(err error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onRejected = fn
	}
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(refresher Refresher, store TokenStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		refresher: refresher,
		store:     store,
		timeout:   defaultRefreshTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request joins the current refresh flight, starting one if none is running.
func (c *Coordinator) Request(ctx context.Context) (string, error) {
	return c.enroll(ctx, "", false)
}

// RequestAfter is Request for a caller that found stale unusable. If the
// store already holds a different, unexpired token (another caller refreshed
// in the meantime) it is returned without a network call.
func (c *Coordinator) RequestAfter(ctx context.Context, stale string) (string, error) {
	return c.enroll(ctx, stale, true)
}

// Invalidate starts a new epoch: every current waiter fails with reason and
// the result of a flight started before this call is discarded.
func (c *Coordinator) Invalidate(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked(reason)
}

// InvalidateAndClear is Invalidate plus clearing the token store in the same
// critical section, so no flight can store a token between the two.
func (c *Coordinator) InvalidateAndClear(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked(reason)
	c.store.Clear()
}

func (c *Coordinator) invalidateLocked(reason error) {
	c.epoch++
	for _, waiter := range c.waiters {
		waiter <- refreshResult{err: reason}
	}
	c.waiters = nil
}

func (c *Coordinator) enroll(ctx context.Context, stale string, reuse bool) (string, error) {
	c.mu.Lock()
	if reuse {
		if current := c.store.Get(); current != "" && current != stale && !expired(current, c.now()) {
			c.mu.Unlock()
			return current, nil
		}
	}

	waiter := make(chan refreshResult, 1)
	c.waiters = append(c.waiters, waiter)
	if !c.inFlight {
		c.inFlight = true
		go c.fly(c.epoch)
	}
	c.mu.Unlock()

	select {
	case result := <-waiter:
		return result.token, result.err
	case <-ctx.Done():
		// The flight keeps going for the other waiters; waiter is buffered.
		return "", ctx.Err()
	}
}

func (c *Coordinator) fly(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	token, err := c.refresher.Refresh(ctx)
	cancel()

	err = classifyRefreshError(token, err)
	rejected := errors.Is(err, ErrRefreshRejected)

	c.mu.Lock()
	if epoch != c.epoch {
		// Logged out while in flight. Anyone queued now enrolled after the
		// invalidation and gets a flight of its own.
		slog.Debug("discarding refresh result from previous epoch", "epoch", epoch)
		if len(c.waiters) > 0 {
			go c.fly(c.epoch)
		} else {
			c.inFlight = false
		}
		c.mu.Unlock()
		return
	}

	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false

	switch {
	case err == nil:
		c.store.Set(token)
	case rejected:
		c.store.Clear()
	}
	for _, waiter := range waiters {
		waiter <- refreshResult{token: token, err: err}
	}
	c.mu.Unlock()

	if err != nil {
		slog.Warn("refresh failed", "rejected", rejected, "waiters", len(waiters), "error", err)
	}
	if rejected && c.onRejected != nil {
		c.onRejected(err)
	}
}

func classifyRefreshError(token string, err error) error {
	switch {
	case err == nil && token == "":
		return fmt.Errorf("%w: empty access token", ErrRefreshRejected)
	case err == nil:
		return nil
	case errors.Is(err, ErrRefreshRejected), errors.Is(err, ErrRefreshTransient):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRefreshTransient, err)
	}
}

func (c *Coordinator) refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
