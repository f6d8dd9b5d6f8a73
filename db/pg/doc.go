package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbt "tripsync/db/db"
)

// GORMDocDBWrapper is a GORM-based PostgreSQL implementation of dbt.DocDBWrapper.
type GORMDocDBWrapper struct {
	db *gorm.DB
}

// NewGORMDocDBWrapper creates and returns a new instance of GORMDocDBWrapper.
func NewGORMDocDBWrapper(db *gorm.DB) dbt.DocDBWrapper {
	return &GORMDocDBWrapper{
		db: db,
	}
}

func toDocument(m DocumentModel) *dbt.Document {
	return &dbt.Document{
		Path:      m.Path,
		Version:   m.Version,
		Data:      m.Data,
		UpdatedAt: m.UpdatedAt,
	}
}

// GetDocument retrieves the document stored at path.
func (pgdb *GORMDocDBWrapper) GetDocument(ctx context.Context, path string) (*dbt.Document, error) {
	var model DocumentModel
	result := pgdb.db.WithContext(ctx).First(&model, "path = ?", path)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document %s: %w", path, result.Error)
	}
	return toDocument(model), nil
}

// ListDocuments retrieves all documents under a path prefix.
func (pgdb *GORMDocDBWrapper) ListDocuments(ctx context.Context, prefix string) ([]dbt.Document, error) {
	var models []DocumentModel
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	result := pgdb.db.WithContext(ctx).Where("path LIKE ?", escaped+"%").Order("path").Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list documents under %s: %w", prefix, result.Error)
	}
	out := make([]dbt.Document, 0, len(models))
	for _, m := range models {
		out = append(out, *toDocument(m))
	}
	return out, nil
}

// PutDocument upserts the document and bumps its version.
func (pgdb *GORMDocDBWrapper) PutDocument(ctx context.Context, path string, data []byte) (*dbt.Document, error) {
	model := DocumentModel{Path: path, Version: 1, Data: data}
	result := pgdb.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"version":    gorm.Expr("documents.version + 1"),
				"data":       gorm.Expr("EXCLUDED.data"),
				"updated_at": gorm.Expr("EXCLUDED.updated_at"),
			}),
		},
		clause.Returning{},
	).Create(&model)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to put document %s: %w", path, result.Error)
	}
	return toDocument(model), nil
}

// PutDocumentIfVersion writes only when the stored version still equals expected.
func (pgdb *GORMDocDBWrapper) PutDocumentIfVersion(ctx context.Context, path string, data []byte, expected int64) (*dbt.Document, error) {
	if expected == 0 {
		model := DocumentModel{Path: path, Version: 1, Data: data}
		result := pgdb.db.WithContext(ctx).Create(&model)
		if result.Error != nil {
			if strings.Contains(result.Error.Error(), "duplicate key value violates unique constraint") {
				return nil, fmt.Errorf("document %s already exists: %w", path, dbt.ErrVersionConflict)
			}
			return nil, fmt.Errorf("failed to create document %s: %w", path, result.Error)
		}
		return toDocument(model), nil
	}

	var model DocumentModel
	err := pgdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&DocumentModel{}).
			Where("path = ? AND version = ?", path, expected).
			Updates(map[string]interface{}{
				"version": gorm.Expr("version + 1"),
				"data":    data,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return dbt.ErrVersionConflict
		}
		return tx.First(&model, "path = ?", path).Error
	})
	if errors.Is(err, dbt.ErrVersionConflict) {
		return nil, fmt.Errorf("document %s is not at version %d: %w", path, expected, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", path, err)
	}
	return toDocument(model), nil
}

// DeleteDocument removes the document at path.
func (pgdb *GORMDocDBWrapper) DeleteDocument(ctx context.Context, path string) error {
	result := pgdb.db.WithContext(ctx).Delete(&DocumentModel{}, "path = ?", path)
	if result.Error != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
	}
	return nil
}

// DataLoaderGetDocuments loads many documents in one query. Missing paths map to nil.
func (pgdb *GORMDocDBWrapper) DataLoaderGetDocuments(ctx context.Context, paths []string) (map[string]*dbt.Document, error) {
	out := make(map[string]*dbt.Document, len(paths))
	for _, p := range paths {
		out[p] = nil
	}
	if len(paths) == 0 {
		return out, nil
	}
	var models []DocumentModel
	result := pgdb.db.WithContext(ctx).Where("path IN ?", paths).Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load documents: %w", result.Error)
	}
	for _, m := range models {
		out[m.Path] = toDocument(m)
	}
	return out, nil
}
