package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"TrackerAuth/internal/model"

	"golang.org/x/net/publicsuffix"
)

const (
	loginPath   = "/api/login"
	refreshPath = "/api/refresh"
	logoutPath  = "/api/logout"
)

type Options struct {
	BaseURL string
	// Store defaults to an in-memory store.
	Store TokenStore
	// HTTPClient is used as a template; its Jar is replaced by the client's
	// own cookie jar holding the refresh cookie.
	HTTPClient     *http.Client
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// Client wires one coordinator shared by the executor and the session, so
// bootstrap, ordinary requests and logout all see the same refresh flight.
type Client struct {
	*Session
	*Executor

	coordinator *Coordinator
	jar         http.CookieJar
	base        *url.URL
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if opts.HTTPClient != nil {
		template := *opts.HTTPClient
		httpClient = &template
	}
	httpClient.Jar = jar

	store := opts.Store
	if store == nil {
		store = NewMemoryTokenStore()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Client{jar: jar, base: base}

	refresher := &httpRefresher{http: httpClient, endpoint: base.JoinPath(refreshPath).String()}
	c.coordinator = NewCoordinator(refresher, store,
		WithRefreshTimeout(opts.RefreshTimeout),
		WithCoordinatorClock(now),
		WithOnRejected(func(err error) { c.Session.end(err) }),
	)

	c.Session = &Session{
		http:        httpClient,
		loginURL:    base.JoinPath(loginPath).String(),
		logoutURL:   base.JoinPath(logoutPath).String(),
		store:       store,
		coordinator: c.coordinator,
		now:         now,
	}
	c.Executor = NewExecutor(httpClient, base, store, c.coordinator, now)
	c.Executor.onExpired = c.Session.end

	return c, nil
}

// httpRefresher calls the refresh endpoint; the cookie jar supplies the
// refresh credential and stores its rotated successor.
type httpRefresher struct {
	http     *http.Client
	endpoint string
}

func (r *httpRefresher) Refresh(ctx context.Context) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}

	response, err := r.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshTransient, err)
	}
	defer discard(response)

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, response.StatusCode)
	default:
		return "", fmt.Errorf("%w: status %d", ErrRefreshTransient, response.StatusCode)
	}

	var body model.AccessTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode refresh response: %v", ErrRefreshRejected, err)
	}
	if _, err := decodeToken(body.AccessToken); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}

	return body.AccessToken, nil
}
