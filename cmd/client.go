package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"TrackerAuth/internal/client"
	"TrackerAuth/internal/logger"

	"github.com/spf13/cobra"
)

type clientOptions struct {
	baseURL     string
	username    string
	password    string
	path        string
	tokenFile   string
	concurrency int
	timeout     time.Duration
	logout      bool
	logLevel    string
}

func clientCmd() *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call a protected endpoint concurrently through the session client",
		Long: `Restores the session from --token-file (or logs in with --username),
then fires --concurrency parallel requests at --path. All of them share a
single refresh when the access token is missing or expired.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel)
			return runClient(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVar(&opts.username, "username", "", "Log in as this user when the session cannot be restored")
	cmd.Flags().StringVar(&opts.password, "password", os.Getenv("TRACKER_PASSWORD"), "Password (defaults to $TRACKER_PASSWORD)")
	cmd.Flags().StringVar(&opts.path, "path", "/api/session", "Protected path to call")
	cmd.Flags().StringVar(&opts.tokenFile, "token-file", "", "Persist the access token here between runs")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 5, "Parallel requests")
	cmd.Flags().DurationVar(&opts.timeout, "refresh-timeout", 10*time.Second, "Refresh attempt timeout")
	cmd.Flags().BoolVar(&opts.logout, "logout", false, "Log out when done")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	return cmd
}

func runClient(ctx context.Context, out io.Writer, opts *clientOptions) error {
	var store client.TokenStore = client.NewMemoryTokenStore()
	if opts.tokenFile != "" {
		store = client.NewFileTokenStore(opts.tokenFile)
	}

	c, err := client.New(client.Options{
		BaseURL:        opts.baseURL,
		Store:          store,
		RefreshTimeout: opts.timeout,
	})
	if err != nil {
		return err
	}
	c.OnLoggedOut(func(reason error) {
		slog.Warn("session ended", "reason", reason)
	})

	view, err := c.Bootstrap(ctx)
	if err != nil {
		if opts.username == "" {
			return fmt.Errorf("restore session: %w", err)
		}
		view, err = c.Login(ctx, opts.username, opts.password)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "session: %s (%s) role=%s\n", view.Username, view.ID, view.Role)

	concurrency := max(opts.concurrency, 1)
	results := make([]string, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = callOnce(ctx, c, opts.path)
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		fmt.Fprintf(out, "#%d %s\n", i+1, result)
	}

	if opts.logout {
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "logged out")
	}
	return nil
}

func callOnce(ctx context.Context, c *client.Client, path string) string {
	response, err := c.Do(ctx, http.MethodGet, path, nil, nil)
	switch {
	case errors.Is(err, client.ErrSessionExpired):
		return "session expired, log in again"
	case err != nil:
		return "error: " + err.Error()
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 512))
	if err != nil {
		return fmt.Sprintf("%d (read body: %v)", response.StatusCode, err)
	}
	return fmt.Sprintf("%d %s", response.StatusCode, strings.TrimSpace(string(body)))
}
