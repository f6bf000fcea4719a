package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"TrackerAuth/config"
	"TrackerAuth/internal"
	"TrackerAuth/internal/handler"
	"TrackerAuth/internal/logger"
	"TrackerAuth/internal/metrics"
	"TrackerAuth/internal/model"
	"TrackerAuth/internal/notifier"
	"TrackerAuth/internal/ports"
	"TrackerAuth/internal/repository"
	"TrackerAuth/internal/security"
	"TrackerAuth/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// App содержит собранный сервер и все, что нужно закрыть при остановке.
type App struct {
	Server  *http.Server
	Router  *chi.Mux
	Metrics *metrics.Metrics

	closers []func() error
}

func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	return errors.Join(errs...)
}

// Setup собирает сервер из cfg. БД открывается, только если она нужна
// справочнику пользователей или хранилищу refresh токенов.
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Metrics: metrics.New()}

	var database *internal.Database
	if cfg.Database.Driver != "" || cfg.RefreshStore == config.RefreshStorePostgres {
		db, err := SetupDatabase(cfg)
		if err != nil {
			return nil, err
		}
		database = db
		app.closers = append(app.closers, db.Close)
	}

	refreshTokens, closeStore, err := SetupRefreshStore(ctx, cfg, database)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if closeStore != nil {
		app.closers = append(app.closers, closeStore)
	}

	users, err := SetupUserDirectory(cfg, database)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	issuer := security.NewTokenIssuer(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessTokenTTL,
		cfg.RefreshTTL(),
	)
	authenticationService := service.NewAuthenticationService(
		refreshTokens,
		users,
		issuer,
		notifier.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout),
		app.Metrics,
	)
	authenticationHandler := handler.NewAuthenticationHandler(authenticationService, handler.CookieSettings{
		Name:     cfg.Cookie.Name,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.CookieSecure(),
		SameSite: cfg.CookieSameSite(),
	})

	app.Server, app.Router = SetupServer(cfg)
	app.Router.Handle("/metrics", app.Metrics.Handler())
	authenticationHandler.Register(app.Router, issuer, security.NewAuthorizationPolicy(cfg.Authorization.Roles))

	return app, nil
}

func SetupDatabase(cfg *config.Config) (*internal.Database, error) {
	driver := cfg.Database.Driver
	if driver == "" {
		driver = "postgres"
	}

	database, err := internal.NewDatabaseConnection(driver, cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения: %w", err)
	}
	return database, nil
}

// SetupRefreshStore возвращает хранилище refresh токенов и, если оно
// владеет соединением, функцию его закрытия.
func SetupRefreshStore(ctx context.Context, cfg *config.Config, database *internal.Database) (ports.RefreshTokenRepository, func() error, error) {
	switch cfg.RefreshStore {
	case config.RefreshStorePostgres:
		if database == nil {
			return nil, nil, errors.New("для хранилища postgres нужна БД")
		}
		return repository.NewRefreshTokenRepository(database), nil, nil

	case config.RefreshStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ошибка подключения к redis %s: %w", cfg.Redis.Addr, err)
		}
		slog.Info("redis connection established", "addr", cfg.Redis.Addr)
		return repository.NewRedisRefreshTokenRepository(client, cfg.Redis.KeyPrefix), client.Close, nil

	case config.RefreshStoreMemory:
		slog.Warn("refresh tokens are kept in memory and lost on restart")
		return repository.NewMemoryRefreshTokenRepository(), nil, nil

	default:
		return nil, nil, fmt.Errorf("неизвестное хранилище refresh токенов %q", cfg.RefreshStore)
	}
}

// SetupUserDirectory использует таблицу users при настроенной БД,
// иначе список dev_users.
func SetupUserDirectory(cfg *config.Config, database *internal.Database) (ports.UserDirectory, error) {
	if database != nil {
		return repository.NewUserRepository(database), nil
	}

	if len(cfg.DevUsers) == 0 {
		return nil, errors.New("БД не настроена, а dev_users пуст")
	}
	if cfg.IsProduction() {
		return nil, errors.New("dev_users нельзя использовать в production")
	}

	directory := repository.NewMemoryUserDirectory()
	for _, devUser := range cfg.DevUsers {
		id := devUser.ID
		if id == "" {
			id = uuid.NewString()
		}
		directory.Add(&model.User{
			ID:           id,
			Username:     devUser.Username,
			Name:         devUser.Name,
			Role:         devUser.Role,
			PasswordHash: devUser.PasswordHash,
		})
	}
	slog.Info("using in-memory user directory", "users", len(cfg.DevUsers))
	return directory, nil
}

func SetupServer(cfg *config.Config) (*http.Server, *chi.Mux) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logger.RequestLogger(slog.Default()))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, router
}
