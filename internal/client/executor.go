package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Executor sends authenticated requests. It refreshes at most once per call:
// proactively when the stored token is missing or expired, or after a 401,
// and then replays exactly once.
type Executor struct {
	http        *http.Client
	base        *url.URL
	store       TokenStore
	coordinator *Coordinator
	now         func() time.Time
	onExpired   func(err error)
}

func NewExecutor(httpClient *http.Client, base *url.URL, store TokenStore, coordinator *Coordinator, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		http:        httpClient,
		base:        base,
		store:       store,
		coordinator: coordinator,
		now:         now,
	}
}

// Do sends method target with the current access token. target may be
// relative to the client's base URL. A 403 is returned to the caller as a
// normal response: refreshing cannot fix an insufficient role.
func (e *Executor) Do(ctx context.Context, method string, target string, body []byte, header http.Header) (*http.Response, error) {
	endpoint, err := e.resolve(target)
	if err != nil {
		return nil, err
	}

	token := e.store.Get()
	refreshed := false
	if token == "" || expired(token, e.now()) {
		token, err = e.coordinator.RequestAfter(ctx, token)
		if err != nil {
			return nil, refreshFailure(err)
		}
		refreshed = true
	}

	response, err := e.send(ctx, method, endpoint, body, header, token)
	if err != nil || response.StatusCode != http.StatusUnauthorized {
		return response, err
	}
	discard(response)

	if refreshed {
		return nil, e.expire(fmt.Errorf("%w: rejected right after refresh", ErrSessionExpired))
	}

	token, err = e.coordinator.RequestAfter(ctx, token)
	if err != nil {
		return nil, refreshFailure(err)
	}

	response, err = e.send(ctx, method, endpoint, body, header, token)
	if err != nil || response.StatusCode != http.StatusUnauthorized {
		return response, err
	}
	discard(response)

	return nil, e.expire(fmt.Errorf("%w: rejected after replay", ErrSessionExpired))
}

func (e *Executor) send(ctx context.Context, method string, endpoint string, body []byte, header http.Header, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := e.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return response, nil
}

func (e *Executor) resolve(target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if e.base == nil {
		return parsed.String(), nil
	}
	return e.base.ResolveReference(parsed).String(), nil
}

func (e *Executor) expire(err error) error {
	if e.onExpired != nil {
		e.onExpired(err)
	}
	return err
}

// refreshFailure maps a coordinator outcome to what Do returns. The
// coordinator has already cleared state and run its hook for rejections.
func refreshFailure(err error) error {
	if errors.Is(err, ErrRefreshRejected) {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return err
}

func discard(response *http.Response) {
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
}
