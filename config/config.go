/*
Package config loads server settings.

SOURCES (later wins):
  1. .env in the working directory (optional)
  2. Process environment
  3. Command-line flags: -port, -db, -driver

  Unset keys fall back to development defaults: SQLite file, in-memory
  revocations, the Flash sandbox and local uploads. Validate rejects
  combinations that cannot start, and weak secrets in production.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	UploadLocal = "local"
	UploadS3    = "s3"

	devJWTSecret = "dev-secret-change-me"
)

type Config struct {
	Environment string
	Port        int

	DBDriver    string
	DBPath      string
	DatabaseURL string

	JWTSecret  string
	SessionTTL time.Duration
	RedisURL   string

	FlashBaseURL       string
	FlashAPIKey        string
	FlashWebhookSecret string
	FlashTimeout       time.Duration
	FlashPollInterval  time.Duration
	FlashPollAfter     time.Duration
	SendConcurrency    int

	UploadBackend     string
	UploadDir         string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	CORSOrigins []string

	SeedOperatorEmail    string
	SeedOperatorPassword string
}

// Load reads .env, the environment and then args (usually os.Args[1:]).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	c := Config{
		Environment:          getEnv("APP_ENV", "development"),
		Port:                 getEnvInt("PORT", 8080),
		DBDriver:             getEnv("DB_DRIVER", DriverSQLite),
		DBPath:               getEnv("DB_PATH", "benefits.db"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", devJWTSecret),
		SessionTTL:           getEnvDuration("SESSION_TTL", 12*time.Hour),
		RedisURL:             getEnv("REDIS_URL", ""),
		FlashBaseURL:         getEnv("FLASH_BASE_URL", ""),
		FlashAPIKey:          getEnv("FLASH_API_KEY", ""),
		FlashWebhookSecret:   getEnv("FLASH_WEBHOOK_SECRET", ""),
		FlashTimeout:         getEnvDuration("FLASH_TIMEOUT", 15*time.Second),
		FlashPollInterval:    getEnvDuration("FLASH_POLL_INTERVAL", 5*time.Minute),
		FlashPollAfter:       getEnvDuration("FLASH_POLL_AFTER", 30*time.Minute),
		SendConcurrency:      getEnvInt("SEND_CONCURRENCY", 4),
		UploadBackend:        getEnv("UPLOAD_BACKEND", UploadLocal),
		UploadDir:            getEnv("UPLOAD_DIR", "uploads"),
		S3Bucket:             getEnv("S3_BUCKET", ""),
		S3Region:             getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:        getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:    getEnv("S3_SECRET_ACCESS_KEY", ""),
		CORSOrigins:          getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		SeedOperatorEmail:    getEnv("SEED_OPERATOR_EMAIL", ""),
		SeedOperatorPassword: getEnv("SEED_OPERATOR_PASSWORD", ""),
	}

	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	flags.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path (\":memory:\" for in-memory)")
	flags.StringVar(&c.DBDriver, "driver", c.DBDriver, "database driver: sqlite or postgres")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Production() bool { return c.Environment == "production" }

// UsesSandbox reports whether payments go to the in-process sandbox.
func (c Config) UsesSandbox() bool { return c.FlashBaseURL == "" }

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}

	switch c.UploadBackend {
	case UploadLocal:
		if strings.TrimSpace(c.UploadDir) == "" {
			return fmt.Errorf("UPLOAD_DIR is required for local uploads")
		}
	case UploadS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when UPLOAD_BACKEND is s3")
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be %q or %q, got %q", UploadLocal, UploadS3, c.UploadBackend)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.FlashTimeout <= 0 {
		return fmt.Errorf("FLASH_TIMEOUT must be positive")
	}
	if c.FlashPollInterval < 0 || c.FlashPollAfter < 0 {
		return fmt.Errorf("FLASH_POLL_INTERVAL and FLASH_POLL_AFTER must not be negative")
	}
	if c.SendConcurrency <= 0 {
		return fmt.Errorf("SEND_CONCURRENCY must be positive")
	}
	if (c.SeedOperatorEmail == "") != (c.SeedOperatorPassword == "") {
		return fmt.Errorf("SEED_OPERATOR_EMAIL and SEED_OPERATOR_PASSWORD must be set together")
	}

	if c.Production() {
		if c.JWTSecret == devJWTSecret || len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.UsesSandbox() {
			return fmt.Errorf("FLASH_BASE_URL must be set in production")
		}
		if c.FlashWebhookSecret == "" {
			return fmt.Errorf("FLASH_WEBHOOK_SECRET must be set in production")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
