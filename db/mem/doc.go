package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	dbt "tripsync/db/db"
)

// inMemoryDocDBWrapper is an in-memory implementation of dbt.DocDBWrapper.
type inMemoryDocDBWrapper struct {
	docs  map[string]*dbt.Document
	clock clockwork.Clock

	mu sync.RWMutex
}

// NewInMemoryDocDBWrapper creates and returns a new instance of inMemoryDocDBWrapper.
func NewInMemoryDocDBWrapper() dbt.DocDBWrapper {
	return NewInMemoryDocDBWrapperWithClock(clockwork.NewRealClock())
}

// NewInMemoryDocDBWrapperWithClock is NewInMemoryDocDBWrapper with a custom clock for UpdatedAt.
func NewInMemoryDocDBWrapperWithClock(clock clockwork.Clock) dbt.DocDBWrapper {
	return &inMemoryDocDBWrapper{
		docs:  make(map[string]*dbt.Document),
		clock: clock,
	}
}

// GetDocument returns a copy of the document stored at path.
func (db *inMemoryDocDBWrapper) GetDocument(_ context.Context, path string) (*dbt.Document, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	doc, exists := db.docs[path]
	if !exists {
		return nil, fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
	}
	out := doc.Clone()
	return &out, nil
}

// ListDocuments returns every document whose path starts with prefix, sorted by path.
func (db *inMemoryDocDBWrapper) ListDocuments(_ context.Context, prefix string) ([]dbt.Document, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]dbt.Document, 0)
	for p, doc := range db.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// PutDocument replaces the whole document, creating it when absent.
func (db *inMemoryDocDBWrapper) PutDocument(_ context.Context, path string, data []byte) (*dbt.Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.put(path, data), nil
}

// PutDocumentIfVersion replaces the document only when its version still matches expected.
func (db *inMemoryDocDBWrapper) PutDocumentIfVersion(_ context.Context, path string, data []byte, expected int64) (*dbt.Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var current int64
	if doc, exists := db.docs[path]; exists {
		current = doc.Version
	}
	if current != expected {
		return nil, fmt.Errorf("document %s is at version %d, expected %d: %w", path, current, expected, dbt.ErrVersionConflict)
	}
	return db.put(path, data), nil
}

func (db *inMemoryDocDBWrapper) put(path string, data []byte) *dbt.Document {
	var version int64 = 1
	if doc, exists := db.docs[path]; exists {
		version = doc.Version + 1
	}
	doc := &dbt.Document{
		Path:      path,
		Version:   version,
		Data:      append([]byte(nil), data...),
		UpdatedAt: db.clock.Now(),
	}
	db.docs[path] = doc
	out := doc.Clone()
	return &out
}

// DeleteDocument removes the document at path.
func (db *inMemoryDocDBWrapper) DeleteDocument(_ context.Context, path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.docs[path]; !exists {
		return fmt.Errorf("document %s not found: %w", path, dbt.ErrNotFound)
	}
	delete(db.docs, path)
	return nil
}

// DataLoaderGetDocuments resolves many paths under one lock. Missing paths map to nil.
func (db *inMemoryDocDBWrapper) DataLoaderGetDocuments(_ context.Context, paths []string) (map[string]*dbt.Document, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[string]*dbt.Document, len(paths))
	for _, p := range paths {
		doc, exists := db.docs[p]
		if !exists {
			out[p] = nil
			continue
		}
		c := doc.Clone()
		out[p] = &c
	}
	return out, nil
}
