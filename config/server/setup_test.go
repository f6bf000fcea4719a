package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"TrackerAuth/config"
	"TrackerAuth/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := repository.HashPassword("secret-pass")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RefreshStore = config.RefreshStoreMemory
	cfg.JWT.AccessSecret = "access"
	cfg.JWT.RefreshSecret = "refresh"
	cfg.DevUsers = []config.DevUser{{Username: "alice", Name: "Alice", Role: "user", PasswordHash: hash}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSetup_InMemoryServer(t *testing.T) {
	app, err := Setup(context.Background(), devConfig(t))
	require.NoError(t, err)
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"username":"alice","password":"secret-pass"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `tracker_auth_login_total{result="success"} 1`)
}

func TestSetupUserDirectory_RequiresUsersWithoutDatabase(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevUsers = nil

	_, err := SetupUserDirectory(cfg, nil)
	assert.Error(t, err)
}

func TestSetupUserDirectory_RefusesDevUsersInProduction(t *testing.T) {
	cfg := devConfig(t)
	cfg.Server.Environment = config.EnvironmentProduction

	_, err := SetupUserDirectory(cfg, nil)
	assert.Error(t, err)
}

func TestSetupRefreshStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := devConfig(t)
	cfg.RefreshStore = config.RefreshStoreRedis
	cfg.Redis.Addr = mr.Addr()

	store, closeStore, err := SetupRefreshStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, closeStore)
	assert.IsType(t, &repository.RedisRefreshTokenRepository{}, store)
	assert.NoError(t, closeStore())
}

func TestSetupRefreshStore_Errors(t *testing.T) {
	cfg := devConfig(t)

	cfg.RefreshStore = config.RefreshStorePostgres
	_, _, err := SetupRefreshStore(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.RefreshStore = "etcd"
	_, _, err = SetupRefreshStore(context.Background(), cfg, nil)
	assert.Error(t, err)
}
