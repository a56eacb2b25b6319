// Package config loads the server configuration from the environment.
//
// Values come from process environment variables. A .env file in the working
// directory (or one of its parents) is loaded first if present, so local
// development does not need exported variables. Real environment variables
// always win over .env entries because godotenv.Load never overwrites them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full runtime configuration. It is built once at startup and
// passed by value or pointer into the components that need it; nothing reads
// the environment after Load returns.
type Config struct {
	Port     int
	LogLevel slog.Level
	Debug    bool // echo internal error detail in error responses

	DBDriver    string
	DatabaseURL string

	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	// MaxRefreshTokensPerUser caps concurrently valid refresh tokens. 0 disables the cap.
	MaxRefreshTokensPerUser int
	BcryptCost              int

	CORSAllowedOrigins []string
	SweepSchedule      string
	// ManagerEmails are granted the manager designation when their account is
	// created. No one else can assign it to themselves.
	ManagerEmails      []string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RateLimitMax    int
	RateLimitWindow time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
}

// envFiles are tried in order; the first one that exists is loaded.
var envFiles = []string{".env", "../.env", "../../.env"}

// Load reads .env (if any) and the environment into a validated Config.
func Load() (*Config, error) {
	for _, path := range envFiles {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		Port:     p.int("PORT", 8080),
		LogLevel: p.level("LOG_LEVEL", slog.LevelInfo),
		Debug:    p.bool("DEBUG", false),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabaseURL: getEnv("DATABASE_URL", "data/teamspace.db"),

		JWTSecret:               os.Getenv("JWT_SECRET"),
		JWTIssuer:               getEnv("JWT_ISSUER", "teamspace"),
		AccessTokenTTL:          p.duration("ACCESS_TOKEN_TTL", 200*time.Minute),
		RefreshTokenTTL:         p.duration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTokenTTL:           p.duration("RESET_TOKEN_TTL", time.Hour),
		MaxRefreshTokensPerUser: p.int("MAX_REFRESH_TOKENS_PER_USER", 5),
		BcryptCost:              p.int("BCRYPT_COST", 12),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 1h"),
		ManagerEmails:      splitList(strings.ToLower(os.Getenv("MANAGER_EMAILS"))),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         p.int("REDIS_DB", 0),
		RateLimitMax:    p.int("RATE_LIMIT_MAX", 10),
		RateLimitWindow: p.duration("RATE_LIMIT_WINDOW", 15*time.Minute),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:  os.Getenv("GITHUB_CALLBACK_URL"),
	}
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// GitHubEnabled reports whether GitHub login credentials are configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// RateLimitEnabled reports whether a Redis address is configured.
func (c *Config) RateLimitEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) validate() []error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"ACCESS_TOKEN_TTL":  c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": c.RefreshTokenTTL,
		"RESET_TOKEN_TTL":   c.ResetTokenTTL,
		"RATE_LIMIT_WINDOW": c.RateLimitWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxRefreshTokensPerUser < 0 {
		errs = append(errs, errors.New("MAX_REFRESH_TOKENS_PER_USER must not be negative"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	return errs
}

// parser collects conversion errors so Load can report every bad key at once.
type parser struct {
	errs *[]error
}

func (p parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p parser) level(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid log level %q", key, v))
		return def
	}
	return l
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
