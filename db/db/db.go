package db

import (
	"context"
)

type DocDBWrapper interface {
	// Read
	GetDocument(ctx context.Context, path string) (*Document, error)
	ListDocuments(ctx context.Context, prefix string) ([]Document, error)
	// Write
	PutDocument(ctx context.Context, path string, data []byte) (*Document, error)
	// PutDocumentIfVersion writes only when the stored version equals expected.
	// expected == 0 means the document must not exist yet.
	PutDocumentIfVersion(ctx context.Context, path string, data []byte, expected int64) (*Document, error)
	// Delete
	DeleteDocument(ctx context.Context, path string) error
	// Data Loader
	DataLoaderGetDocuments(ctx context.Context, paths []string) (map[string]*Document, error)
}
