package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"

	RefreshStorePostgres = "postgres"
	RefreshStoreRedis    = "redis"
	RefreshStoreMemory   = "memory"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	JWT           JWTConfig           `yaml:"jwt"`
	Cookie        CookieConfig        `yaml:"cookie"`
	RefreshStore  string              `yaml:"refresh_store"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Log           LogConfig           `yaml:"log"`
	DevUsers      []DevUser           `yaml:"dev_users"`
}

type ServerConfig struct {
	Address     string `yaml:"address"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connection_string"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type JWTConfig struct {
	AccessSecret   string        `yaml:"access_secret"`
	RefreshSecret  string        `yaml:"refresh_secret"`
	Issuer         string        `yaml:"issuer"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	RefreshTTLDays int           `yaml:"refresh_ttl_days"`
}

// CookieConfig drives the refresh cookie flags. Secure is derived from the
// environment unless set explicitly.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	SameSite string `yaml:"same_site"`
	Secure   *bool  `yaml:"secure"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthorizationConfig maps a role claim to the "METHOD /route" patterns it
// may reach. "*" allows everything.
type AuthorizationConfig struct {
	Roles map[string][]string `yaml:"roles"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DevUser struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
}

// Default returns a development configuration with every optional field filled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8080",
			Environment: EnvironmentDevelopment,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "refresh:",
		},
		JWT: JWTConfig{
			Issuer:         "tracker-auth",
			AccessTokenTTL: 15 * time.Minute,
			RefreshTTLDays: 7,
		},
		Cookie: CookieConfig{
			Name:     "refreshToken",
			Path:     "/api",
			SameSite: "strict",
		},
		RefreshStore: RefreshStorePostgres,
		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
		},
		Authorization: AuthorizationConfig{
			Roles: map[string][]string{
				"admin": {"*"},
				"user":  {"GET /api/session"},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, EnvironmentProduction)
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTTLDays) * 24 * time.Hour
}

func (c *Config) CookieSecure() bool {
	if c.Cookie.Secure != nil {
		return *c.Cookie.Secure
	}
	return c.IsProduction()
}

func (c *Config) CookieSameSite() http.SameSite {
	return ParseSameSite(c.Cookie.SameSite)
}

// ParseSameSite maps a config value to http.SameSite. Unknown values fall back to strict.
func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.JWT.AccessSecret) == "" {
		errs = append(errs, errors.New("jwt.access_secret is required"))
	}
	if strings.TrimSpace(c.JWT.RefreshSecret) == "" {
		errs = append(errs, errors.New("jwt.refresh_secret is required"))
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt.access_secret and jwt.refresh_secret must differ"))
	}
	if c.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt.access_token_ttl must be positive"))
	}
	if c.JWT.RefreshTTLDays <= 0 {
		errs = append(errs, errors.New("jwt.refresh_ttl_days must be positive"))
	}
	if c.Cookie.Name == "" {
		errs = append(errs, errors.New("cookie.name is required"))
	}
	if c.CookieSameSite() == http.SameSiteNoneMode && !c.CookieSecure() {
		errs = append(errs, errors.New("cookie.same_site=none requires a secure cookie"))
	}

	switch c.RefreshStore {
	case RefreshStorePostgres:
		if c.Database.ConnectionString == "" {
			errs = append(errs, errors.New("database.connection_string is required for the postgres refresh store"))
		}
	case RefreshStoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis refresh store"))
		}
	case RefreshStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown refresh_store %q", c.RefreshStore))
	}

	return errors.Join(errs...)
}

// String masks secrets so the config can be logged at startup.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Server.Address: %s\n", c.Server.Address))
	sb.WriteString(fmt.Sprintf("  Server.Environment: %s\n", c.Server.Environment))
	sb.WriteString(fmt.Sprintf("  Database.Driver: %s\n", c.Database.Driver))
	sb.WriteString(fmt.Sprintf("  RefreshStore: %s\n", c.RefreshStore))
	sb.WriteString(fmt.Sprintf("  Redis.Addr: %s\n", c.Redis.Addr))
	sb.WriteString(fmt.Sprintf("  JWT.Issuer: %s\n", c.JWT.Issuer))
	sb.WriteString(fmt.Sprintf("  JWT.AccessTokenTTL: %s\n", c.JWT.AccessTokenTTL))
	sb.WriteString(fmt.Sprintf("  JWT.RefreshTTLDays: %d\n", c.JWT.RefreshTTLDays))
	sb.WriteString(fmt.Sprintf("  JWT.AccessSecret: %s\n", mask(c.JWT.AccessSecret)))
	sb.WriteString(fmt.Sprintf("  JWT.RefreshSecret: %s\n", mask(c.JWT.RefreshSecret)))
	sb.WriteString(fmt.Sprintf("  Cookie: name=%s path=%s same_site=%s secure=%v\n",
		c.Cookie.Name, c.Cookie.Path, c.Cookie.SameSite, c.CookieSecure()))
	sb.WriteString(fmt.Sprintf("  Webhook.URL: %s\n", c.Webhook.URL))
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}
