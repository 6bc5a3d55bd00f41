package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Poll     PollConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver   string // "postgres" or "memory"
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the bucket used for closed-poll archives.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// PollConfig holds poll lifecycle settings.
type PollConfig struct {
	VotePolicy    string // "replace" or "reject"
	DefaultTimer  int    // seconds, used when a create request carries no timer
	MaxTimer      int    // seconds
	ActiveWindow  time.Duration
	HistoryLimit  int
	LockBackend   string // "local" or "redis"
	LockTTL       time.Duration
	CloseTimeout  time.Duration // budget for a timer-driven close
	ArchiveClosed bool
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "5000"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "polling"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", "classpoll-archive"),
		},
		Poll: PollConfig{
			VotePolicy:    strings.ToLower(getEnv("POLL_VOTE_POLICY", "replace")),
			DefaultTimer:  getEnvInt("POLL_DEFAULT_TIMER_SEC", 60),
			MaxTimer:      getEnvInt("POLL_MAX_TIMER_SEC", 3600),
			ActiveWindow:  time.Duration(getEnvInt("POLL_ACTIVE_WINDOW_MIN", 60)) * time.Minute,
			HistoryLimit:  getEnvInt("POLL_HISTORY_LIMIT", 50),
			LockBackend:   strings.ToLower(getEnv("POLL_LOCK_BACKEND", "local")),
			LockTTL:       time.Duration(getEnvInt("POLL_LOCK_TTL_MS", 5000)) * time.Millisecond,
			CloseTimeout:  time.Duration(getEnvInt("POLL_CLOSE_TIMEOUT_SEC", 10)) * time.Second,
			ArchiveClosed: getEnvBool("POLL_ARCHIVE_CLOSED", false),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Poll.VotePolicy {
	case "replace", "reject":
	default:
		return fmt.Errorf("POLL_VOTE_POLICY must be replace or reject, got %q", c.Poll.VotePolicy)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}
	switch c.Poll.LockBackend {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("POLL_LOCK_BACKEND=redis requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("POLL_LOCK_BACKEND must be local or redis, got %q", c.Poll.LockBackend)
	}
	if c.Poll.DefaultTimer <= 0 || c.Poll.MaxTimer < c.Poll.DefaultTimer {
		return fmt.Errorf("invalid poll timer bounds: default=%d max=%d", c.Poll.DefaultTimer, c.Poll.MaxTimer)
	}
	if c.Poll.HistoryLimit <= 0 || c.Poll.HistoryLimit > 50 {
		c.Poll.HistoryLimit = 50
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
