// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppName doubles as the postgres schema name.
const AppName = "tripsync"

// devJWTSecret signs tokens only while running in development.
const devJWTSecret = "dev-secret-change-me"

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set outside development")

type DBMode string

const (
	DBModeMem    DBMode = "mem"
	DBModeSQLite DBMode = "sqlite"
	DBModePG     DBMode = "pg"
)

// Postgres describes the connection used by the pg document store and migrations.
// URL, when set, wins over the individual fields.
type Postgres struct {
	URL      string
	Host     string
	Port     int64
	User     string
	Password string
	Name     string
	Schema   string
	MaxConns int64
}

type Config struct {
	Port            string
	IsDev           bool
	DBMode          DBMode
	SQLitePath      string
	Postgres        Postgres
	MQMode          string
	JWTSecret       string
	TokenTTL        time.Duration
	ConflictPolicy  string
	VotePolicy      string
	SettleStrategy  string
	RateLimit       int64
	PoolIdleTTL     time.Duration
	PoolMaxReplicas int64
}

// LoadDotEnv reads .env into the process environment without overriding variables
// that are already set. A missing file is fine.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env", "error", err)
	}
}

// Load reads .env (when present) and then the process environment.
func Load() Config {
	LoadDotEnv()

	return Config{
		Port:       getEnv("PORT", "8080"),
		IsDev:      getEnv("APP_ENV", "development") == "development",
		DBMode:     DBMode(getEnv("DB_MODE", string(DBModeMem))),
		SQLitePath: getEnv("SQLITE_PATH", "data/tripsync.db"),
		Postgres: Postgres{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getInt("DATABASE_PORT", 5432),
			User:     getEnv("DATABASE_USER", "postgres"),
			Password: os.Getenv("DATABASE_PASSWORD"),
			Name:     getEnv("DATABASE_NAME", "postgres"),
			Schema:   getEnv("DATABASE_SCHEMA", AppName),
			MaxConns: getInt("DATABASE_MAX_CONNS", 10),
		},
		MQMode:          getEnv("MQ_MODE", "go_chan"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenTTL:        getDuration("TOKEN_TTL", 24*time.Hour),
		ConflictPolicy:  getEnv("CONFLICT_POLICY", "lww"),
		VotePolicy:      getEnv("VOTE_POLICY", "per_song_toggle"),
		SettleStrategy:  getEnv("SETTLE_STRATEGY", "in_order"),
		RateLimit:       getInt("RATE_LIMIT_PER_HOUR", 1000),
		PoolIdleTTL:     getDuration("POOL_IDLE_TTL", 5*time.Minute),
		PoolMaxReplicas: getInt("POOL_MAX_DOCUMENTS", 1024),
	}
}

// Validate fills development-only defaults and rejects settings that are unsafe
// outside development. Call it after flags have been applied.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if !c.IsDev {
			return ErrMissingJWTSecret
		}
		slog.Warn("JWT_SECRET not set, using the development secret")
		c.JWTSecret = devJWTSecret
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v)
		return fallback
	}
	return n
}
