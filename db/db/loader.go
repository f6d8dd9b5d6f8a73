package db

import (
	"context"
	"fmt"

	"github.com/vikstrous/dataloadgen"
)

type dataLoaderKey string

const (
	DataLoaderKeyDocuments dataLoaderKey = "document_data_loader"
)

// DocDataLoader batches point reads issued while serving one request.
//
//	loader, ok := db.LoaderFromContext(ctx)
//	doc, err := loader.GetDocument.Load(ctx, path)
type DocDataLoader struct {
	GetDocument *dataloadgen.Loader[string, *Document]
}

func NewDocDataLoader(dbWrapper DocDBWrapper) *DocDataLoader {
	return &DocDataLoader{
		GetDocument: dataloadgen.NewMappedLoader(dbWrapper.DataLoaderGetDocuments),
	}
}

func WithLoader(ctx context.Context, loader *DocDataLoader) context.Context {
	return context.WithValue(ctx, DataLoaderKeyDocuments, loader)
}

func LoaderFromContext(ctx context.Context) (*DocDataLoader, bool) {
	loader, ok := ctx.Value(DataLoaderKeyDocuments).(*DocDataLoader)
	return loader, ok
}

// LoadMany loads every path through the loader. Backends map missing documents
// to nil, so a missing path is not an error.
func (l *DocDataLoader) LoadMany(ctx context.Context, paths []string) (map[string]*Document, error) {
	docs, err := l.GetDocument.LoadAll(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	out := make(map[string]*Document, len(paths))
	for i, p := range paths {
		out[p] = docs[i]
	}
	return out, nil
}
