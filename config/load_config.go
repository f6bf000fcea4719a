package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig читает YAML файл filePath (необязательный), затем .env, затем
// переменные окружения. Более поздний источник перекрывает предыдущий.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка парсинга .yaml файла: %w", err)
		}
	}

	// .env нужен только при локальной разработке.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("ошибка загрузки .env: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	setString("APP_ENV", &cfg.Server.Environment)
	setString("SERVER_ADDRESS", &cfg.Server.Address)
	setString("DATABASE_DRIVER", &cfg.Database.Driver)
	setString("DATABASE_CONNECTION_URL", &cfg.Database.ConnectionString)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("JWT_ACCESS_SECRET", &cfg.JWT.AccessSecret)
	setString("JWT_REFRESH_SECRET", &cfg.JWT.RefreshSecret)
	setString("REFRESH_STORE", &cfg.RefreshStore)
	setString("WEBHOOK_URL", &cfg.Webhook.URL)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("COOKIE_SAME_SITE", &cfg.Cookie.SameSite)

	if v, ok := lookup("REFRESH_TTL_DAYS"); ok && v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REFRESH_TTL_DAYS: %w", err)
		}
		cfg.JWT.RefreshTTLDays = days
	}
	if v, ok := lookup("ACCESS_TOKEN_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ACCESS_TOKEN_TTL: %w", err)
		}
		cfg.JWT.AccessTokenTTL = ttl
	}
	if v, ok := lookup("COOKIE_SECURE"); ok && v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		cfg.Cookie.Secure = &secure
	}

	return nil
}
