package pg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tripsync/config"
)

// CreateDSN builds the connection string for cfg with search_path pinned to the
// document schema. DATABASE_URL style values keep their own form.
func CreateDSN(cfg config.Postgres) string {
	schema := cfg.Schema
	if schema == "" {
		schema = config.AppName
	}

	if cfg.URL != "" {
		slog.Info("postgres from DATABASE_URL", "schema", schema)
		if strings.Contains(cfg.URL, "://") {
			sep := "?"
			if strings.Contains(cfg.URL, "?") {
				sep = "&"
			}
			return cfg.URL + sep + "search_path=" + schema
		}
		return cfg.URL + " search_path=" + schema
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable TimeZone=UTC search_path=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Name, schema)
	if cfg.Password != "" {
		dsn += " password=" + cfg.Password
	}
	slog.Info("postgres from DATABASE_* settings", "host", cfg.Host, "port", cfg.Port, "db", cfg.Name, "schema", schema)
	return dsn
}

// slogWriter routes gorm's slow query and error lines into slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func CloseGORM(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("failed to get sql.DB from gorm", "error", err)
		return
	}
	sqlDB.Close()
}

// InitPostgresGORM connects the document store to postgres, makes sure the
// document schema exists and sizes the connection pool.
func InitPostgresGORM(cfg config.Postgres) (*gorm.DB, error) {
	gormLogger := logger.New(
		slogWriter{logger: slog.Default().With("component", "gorm")},
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(CreateDSN(cfg)), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
		sqlDB.SetMaxIdleConns(int(cfg.MaxConns))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := EnsureSchema(ctx, db, cfg.Schema); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the document schema if it is missing.
func EnsureSchema(ctx context.Context, db *gorm.DB, schema string) error {
	if schema == "" {
		schema = config.AppName
	}
	if err := db.WithContext(ctx).Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)).Error; err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}
