package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	AMQPURL       string
	PublicBaseURL string
	LogLevel      string
	SentryDSN     string

	CronSecret             string
	SessionSecret          string
	DispatchSigningKey     string
	DispatchNextSigningKey string

	MailDriver   string
	SendGridHost string

	QuotaWorkspaceLimit int
	QuotaPersonalLimit  int
	QuotaCacheTTL       time.Duration

	SweepLimit     int
	SweepSchedule  string
	ClaimTimeout   time.Duration
	StreamInterval time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on OS environment variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		AMQPURL:       getEnv("AMQP_URL", ""),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SentryDSN:     getEnv("SENTRY_DSN", ""),

		CronSecret:             getEnv("CRON_SECRET", ""),
		SessionSecret:          getEnv("SESSION_SECRET", ""),
		DispatchSigningKey:     getEnv("DISPATCH_SIGNING_KEY", ""),
		DispatchNextSigningKey: getEnv("DISPATCH_NEXT_SIGNING_KEY", ""),

		MailDriver:   strings.ToLower(getEnv("MAIL_DRIVER", "sendgrid")),
		SendGridHost: getEnv("SENDGRID_HOST", "https://api.sendgrid.com"),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
	}

	var err error
	if cfg.QuotaWorkspaceLimit, err = getInt("QUOTA_WORKSPACE_LIMIT", 1500); err != nil {
		return nil, err
	}
	if cfg.QuotaPersonalLimit, err = getInt("QUOTA_PERSONAL_LIMIT", 400); err != nil {
		return nil, err
	}
	if cfg.SweepLimit, err = getInt("SWEEP_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.QuotaCacheTTL, err = getDuration("QUOTA_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ClaimTimeout, err = getDuration("CLAIM_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StreamInterval, err = getDuration("STREAM_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}

	return cfg, nil
}

// ValidateServer checks the settings the HTTP server cannot run without.
func (c *Config) ValidateServer() error {
	missing := []string{}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.DispatchSigningKey == "" {
		missing = append(missing, "DISPATCH_SIGNING_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	switch c.MailDriver {
	case "sendgrid", "resend", "console":
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}
	if c.SweepLimit < 1 {
		return fmt.Errorf("SWEEP_LIMIT must be positive, got %d", c.SweepLimit)
	}
	return nil
}

// ValidateWorker checks the settings of the dispatch worker.
func (c *Config) ValidateWorker() error {
	if c.AMQPURL == "" {
		return fmt.Errorf("missing required configuration: AMQP_URL")
	}
	if c.DispatchSigningKey == "" {
		return fmt.Errorf("missing required configuration: DISPATCH_SIGNING_KEY")
	}
	return nil
}

func databaseURLFromParts() string {
	user := os.Getenv("DB_USER")
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if user == "" || host == "" || name == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, os.Getenv("DB_PASSWORD"), host, getEnv("DB_PORT", "5432"), name, getEnv("DB_SSLMODE", "disable"),
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
