package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"TrackerAuth/config"
	"TrackerAuth/config/server"
	"TrackerAuth/internal/logger"
	"TrackerAuth/internal/model"
	"TrackerAuth/internal/repository"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "tracker-auth",
		Short:         "Session and refresh token service for the tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		addUserCmd(&configPath),
		hashPasswordCmd(),
		clientCmd(),
	)
	return cmd
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация: %w", err)
	}
	logger.New(cfg.Log.Level)
	return cfg, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			slog.Info("configuration loaded", "config", cfg.String())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := server.Setup(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					slog.Error("release resources", "error", err)
				}
			}()

			return runServer(ctx, app.Server)
		},
	}
}

func runServer(ctx context.Context, httpServer *http.Server) error {
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("server started", "address", httpServer.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChannel)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка сервера: %w", err)
		}
		return nil
	case sig := <-signalChannel:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutDownCancel()

	if err := httpServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and refresh_tokens tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			database, err := server.SetupDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			return database.Migrate(cmd.Context())
		},
	}
}

func addUserCmd(configPath *string) *cobra.Command {
	var username, name, role, password string

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Insert a user into the users table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			database, err := server.SetupDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			user, err := repository.NewUserRepository(database).Create(cmd.Context(), &model.User{
				Username: username,
				Name:     name,
				Role:     role,
			}, password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", "user", "Role claim")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for dev_users (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("ошибка чтения пароля: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("пустой пароль")
			}

			hash, err := repository.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
