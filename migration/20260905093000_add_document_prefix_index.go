package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddDocumentPrefixIndex, downAddDocumentPrefixIndex)
}

// ListDocuments filters with "path LIKE 'prefix%'", which needs a pattern ops index.
func upAddDocumentPrefixIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE INDEX idx_documents_path_prefix ON documents (path varchar_pattern_ops);`)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `CREATE INDEX idx_documents_updated_at ON documents (updated_at);`)
	return err
}

func downAddDocumentPrefixIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_documents_updated_at;`)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_documents_path_prefix;`)
	return err
}
