package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"qms/queue-service/internal/retention"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	LogLevel    string

	AdminTokenHash string
	AdminJWTSecret string
	AdminJWTIssuer string

	RedisAddr     string
	RedisPassword string

	RetentionInterval    time.Duration
	RetentionConcurrency int
	RetentionLockTTL     time.Duration
	RetentionArchival    retention.ArchivalMode

	RateLimitPerMinute           int
	RateLimitBurst               int
	DepartmentRateLimitPerMinute int
	DepartmentRateLimitBurst     int
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	return Config{
		Env:                          readString("APP_ENV", "production"),
		Port:                         readString("PORT", "8080"),
		DatabaseURL:                  os.Getenv("DB_DSN"),
		LogLevel:                     readString("LOG_LEVEL", "info"),
		AdminTokenHash:               os.Getenv("ADMIN_TOKEN_HASH"),
		AdminJWTSecret:               os.Getenv("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:               readString("ADMIN_JWT_ISSUER", "qms"),
		RedisAddr:                    os.Getenv("REDIS_ADDR"),
		RedisPassword:                os.Getenv("REDIS_PASSWORD"),
		RetentionInterval:            readDurationSeconds("RETENTION_INTERVAL_SECONDS", 0),
		RetentionConcurrency:         readInt("RETENTION_CONCURRENCY", 1),
		RetentionLockTTL:             readDurationSeconds("RETENTION_LOCK_TTL_SECONDS", 600),
		RetentionArchival:            retention.ArchivalMode(readString("RETENTION_ARCHIVAL_MODE", string(retention.ArchivalBestEffort))),
		RateLimitPerMinute:           readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:               readInt("RATE_LIMIT_BURST", 30),
		DepartmentRateLimitPerMinute: readInt("DEPARTMENT_RATE_LIMIT_PER_MIN", 600),
		DepartmentRateLimitBurst:     readInt("DEPARTMENT_RATE_LIMIT_BURST", 120),
	}, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.AdminTokenHash == "" && c.AdminJWTSecret == "" {
		errs = append(errs, errors.New("one of ADMIN_TOKEN_HASH or ADMIN_JWT_SECRET is required"))
	}
	if c.RetentionInterval > 0 && c.AdminJWTSecret == "" {
		errs = append(errs, errors.New("RETENTION_INTERVAL_SECONDS requires ADMIN_JWT_SECRET"))
	}
	if c.RetentionConcurrency < 1 || c.RetentionConcurrency > retention.MaxConcurrency {
		errs = append(errs, fmt.Errorf("RETENTION_CONCURRENCY must be between 1 and %d", retention.MaxConcurrency))
	}
	if c.RetentionLockTTL <= 0 {
		errs = append(errs, errors.New("RETENTION_LOCK_TTL_SECONDS must be positive"))
	}
	switch c.RetentionArchival {
	case retention.ArchivalBestEffort, retention.ArchivalStrict:
	default:
		errs = append(errs, fmt.Errorf("RETENTION_ARCHIVAL_MODE must be %s or %s", retention.ArchivalBestEffort, retention.ArchivalStrict))
	}
	if c.RateLimitPerMinute < 0 || c.DepartmentRateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
