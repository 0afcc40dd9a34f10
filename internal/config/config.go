package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/SAP-F-2025/results-sync/internal/validator"
)

type Config struct {
	Port        string     `validate:"required"`
	Environment string     `validate:"oneof=development production test"`
	LogLevel    slog.Level `validate:"-"`

	Grading GradingConfig
	Sync    SyncConfig
	Casdoor CasdoorConfig

	FlagStore   string        `validate:"flag_store"`
	FlagTTL     time.Duration `validate:"min=0"`
	RedisURL    string        `validate:"required_if=FlagStore redis"`
	DatabaseURL string        `validate:"required_if=FlagStore postgres"`
}

// GradingConfig points at the Grading Service
type GradingConfig struct {
	BaseURL   string        `validate:"required,url"`
	Timeout   time.Duration `validate:"gt=0"`
	RateLimit float64       `validate:"gt=0"`
	RateBurst int           `validate:"min=1"`
}

// SyncConfig tunes polling and retries of the results engine
type SyncConfig struct {
	RetryDelay          time.Duration `validate:"gt=0"`
	RetryMaxAttempts    int           `validate:"min=1"`
	PollInterval        time.Duration `validate:"gt=0"`
	HistoryPollInterval time.Duration `validate:"gt=0"`
	HistoryPollAttempts int           `validate:"min=0"`
	ScopeLength         int           `validate:"min=1"`
}

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// Enabled reports whether tokens should be verified against Casdoor
func (c CasdoorConfig) Enabled() bool {
	return c.Endpoint != "" && c.Cert != ""
}

// LoadConfig reads .env (if present) and the environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables without touching .env
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		Grading: GradingConfig{
			BaseURL:   getEnv("GRADING_SERVICE_URL", "http://localhost:8000/api"),
			Timeout:   getDuration("GRADING_HTTP_TIMEOUT", 15*time.Second, &errs),
			RateLimit: getFloat("GRADING_RATE_LIMIT", 10, &errs),
			RateBurst: getInt("GRADING_RATE_BURST", 20, &errs),
		},
		Sync: SyncConfig{
			RetryDelay:          getDuration("RETRY_DELAY", 3*time.Second, &errs),
			RetryMaxAttempts:    getInt("RETRY_MAX_ATTEMPTS", 10, &errs),
			PollInterval:        getDuration("POLL_INTERVAL", 4*time.Second, &errs),
			HistoryPollInterval: getDuration("HISTORY_POLL_INTERVAL", 3*time.Second, &errs),
			HistoryPollAttempts: getInt("HISTORY_POLL_ATTEMPTS", 6, &errs),
			ScopeLength:         getInt("SCOPE_LENGTH", 16, &errs),
		},
		Casdoor: CasdoorConfig{
			Endpoint:     os.Getenv("CASDOOR_ENDPOINT"),
			ClientID:     os.Getenv("CASDOOR_CLIENT_ID"),
			ClientSecret: os.Getenv("CASDOOR_CLIENT_SECRET"),
			Cert:         os.Getenv("CASDOOR_CERT"),
			Organization: os.Getenv("CASDOOR_ORGANIZATION"),
			Application:  os.Getenv("CASDOOR_APPLICATION"),
		},
		FlagStore:   strings.ToLower(getEnv("FLAG_STORE", "memory")),
		FlagTTL:     getDuration("FLAG_TTL", 24*time.Hour, &errs),
		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
