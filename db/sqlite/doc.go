// Package sqlite stores documents in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	dbt "tripsync/db/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    data BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

var _ dbt.DocDBWrapper = (*SQLiteDocDBWrapper)(nil)

// SQLiteDocDBWrapper implements dbt.DocDBWrapper on SQLite.
type SQLiteDocDBWrapper struct {
	db *sql.DB
}

// New opens the database at dbPath, creating parent directories and the schema.
func New(dbPath string) (*SQLiteDocDBWrapper, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// serialises writers so conditional updates stay atomic
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteDocDBWrapper{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteDocDBWrapper) Close() error {
	return s.db.Close()
}

func scanDocument(row interface{ Scan(...any) error }) (*dbt.Document, error) {
	var doc dbt.Document
	var updated int64
	if err := row.Scan(&doc.Path, &doc.Version, &doc.Data, &updated); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.UnixMilli(updated).UTC()
	return &doc, nil
}

func (s *SQLiteDocDBWrapper) GetDocument(ctx context.Context, path string) (*dbt.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, version, data, updated_at FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", path, err)
	}
	return doc, nil
}

func (s *SQLiteDocDBWrapper) ListDocuments(ctx context.Context, prefix string) ([]dbt.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, version, data, updated_at FROM documents WHERE substr(path, 1, ?) = ? ORDER BY path`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents under %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]dbt.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (s *SQLiteDocDBWrapper) PutDocument(ctx context.Context, path string, data []byte) (*dbt.Document, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (path, version, data, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT(path) DO UPDATE SET version = version + 1, data = excluded.data, updated_at = excluded.updated_at
		RETURNING path, version, data, updated_at`,
		path, data, now.UnixMilli())
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("failed to put document %s: %w", path, err)
	}
	return doc, nil
}

func (s *SQLiteDocDBWrapper) PutDocumentIfVersion(ctx context.Context, path string, data []byte, expected int64) (*dbt.Document, error) {
	now := time.Now().UTC().UnixMilli()
	var row *sql.Row
	if expected == 0 {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO documents (path, version, data, updated_at) VALUES (?, 1, ?, ?)
			ON CONFLICT(path) DO NOTHING
			RETURNING path, version, data, updated_at`,
			path, data, now)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE documents SET version = version + 1, data = ?, updated_at = ?
			WHERE path = ? AND version = ?
			RETURNING path, version, data, updated_at`,
			data, now, path, expected)
	}
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s is not at version %d: %w", path, expected, dbt.ErrVersionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to put document %s: %w", path, err)
	}
	return doc, nil
}

func (s *SQLiteDocDBWrapper) DeleteDocument(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDocDBWrapper) DataLoaderGetDocuments(ctx context.Context, paths []string) (map[string]*dbt.Document, error) {
	out := make(map[string]*dbt.Document, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
		out[p] = nil
	}
	query := `SELECT path, version, data, updated_at FROM documents WHERE path IN (?` + strings.Repeat(",?", len(paths)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out[doc.Path] = doc
	}
	return out, rows.Err()
}
