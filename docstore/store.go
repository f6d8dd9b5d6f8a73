package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tripsync/db/db"
	"tripsync/mq/mq"
)

// Store is the document store seen by the rest of the app: versioned whole-document
// reads and writes from a DocDBWrapper, with every successful write announced on a
// DocMessageQueue so subscribers of the path see it.
type Store struct {
	db     db.DocDBWrapper
	queue  mq.DocMessageQueue
	logger *slog.Logger
}

func New(dbWrapper db.DocDBWrapper, queue mq.DocMessageQueue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: dbWrapper, queue: queue, logger: logger.With("component", "docstore")}
}

// DB exposes the underlying wrapper, e.g. for building request data loaders.
func (s *Store) DB() db.DocDBWrapper { return s.db }

// Read returns the stored document with its version, or db.ErrNotFound.
func (s *Store) Read(ctx context.Context, path string) (*db.Document, error) {
	doc, err := s.db.GetDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetOnce is a point read of the document body. ok is false when the document is absent.
func (s *Store) GetOnce(ctx context.Context, path string) (data []byte, ok bool, err error) {
	doc, err := s.db.GetDocument(ctx, path)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, err)
	}
	return doc.Data, true, nil
}

// List returns every document whose path starts with prefix, ordered by path.
func (s *Store) List(ctx context.Context, prefix string) ([]db.Document, error) {
	docs, err := s.db.ListDocuments(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return docs, nil
}

// ReadMany loads several documents at once. Inside a request carrying a data loader
// the reads are batched and cached for the rest of that request.
func (s *Store) ReadMany(ctx context.Context, paths []string) (map[string]*db.Document, error) {
	if loader, ok := db.LoaderFromContext(ctx); ok {
		return loader.LoadMany(ctx, paths)
	}
	return s.db.DataLoaderGetDocuments(ctx, paths)
}

// SetWhole replaces the whole document unconditionally.
func (s *Store) SetWhole(ctx context.Context, path string, data []byte) (*db.Document, error) {
	doc, err := s.db.PutDocument(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	s.announce(*doc, mq.ActionPut)
	return doc, nil
}

// WriteIfVersion replaces the document only if its stored version equals expected
// (0 meaning it must not exist). A mismatch returns db.ErrVersionConflict.
func (s *Store) WriteIfVersion(ctx context.Context, path string, data []byte, expected int64) (*db.Document, error) {
	doc, err := s.db.PutDocumentIfVersion(ctx, path, data, expected)
	if err != nil {
		return nil, fmt.Errorf("conditional set %s: %w", path, err)
	}
	s.announce(*doc, mq.ActionPut)
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.db.DeleteDocument(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.announce(db.Document{Path: path}, mq.ActionDelete)
	return nil
}

// announce never fails the write: the document is already stored, and subscribers
// recover on their next read.
func (s *Store) announce(doc db.Document, action mq.Action) {
	if s.queue == nil {
		return
	}
	msg := mq.DocMessage{
		Path:      doc.Path,
		Version:   doc.Version,
		Data:      json.RawMessage(doc.Data),
		Action:    action,
		UpdatedAt: doc.UpdatedAt,
	}
	if err := s.queue.Publish(msg); err != nil {
		s.logger.Warn("failed to publish document change", "path", doc.Path, "version", doc.Version, "action", action.String(), "error", err)
	}
}

// Change is one observed state of a subscribed document. Deleted changes carry no data.
type Change struct {
	Doc     db.Document
	Deleted bool
}

// Subscribe calls onChange with the current document (if any) and then with every
// newer version of path until ctx is done or the returned unsubscribe is called.
// Callbacks run on a single goroutine, in order; versions never go backwards except
// after a delete. onError receives failures of the initial read.
func (s *Store) Subscribe(ctx context.Context, path string, onChange func(Change), onError func(error)) (unsubscribe func(), err error) {
	if s.queue == nil {
		return nil, fmt.Errorf("subscribe %s: no message queue configured", path)
	}
	if onError == nil {
		onError = func(err error) {
			s.logger.Warn("subscription error", "path", path, "error", err)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Change, 8)
	transform := func(msg mq.DocMessage) (Change, bool, error) {
		if msg.Path != path {
			return Change{}, true, nil
		}
		return Change{
			Doc: db.Document{
				Path:      msg.Path,
				Version:   msg.Version,
				Data:      []byte(msg.Data),
				UpdatedAt: msg.UpdatedAt,
			},
			Deleted: msg.Action == mq.ActionDelete,
		}, false, nil
	}
	if err := mq.SubscribeProcessor(subCtx, mq.TopicForPath(path), s.queue, transform, out); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	go func() {
		var lastVersion int64
		deliver := func(c Change) {
			if c.Deleted {
				lastVersion = 0
				onChange(c)
				return
			}
			if c.Doc.Version <= lastVersion {
				return
			}
			lastVersion = c.Doc.Version
			onChange(c)
		}

		// the queue subscription is live before this read, so nothing falls in between
		doc, err := s.db.GetDocument(subCtx, path)
		switch {
		case err == nil:
			deliver(Change{Doc: *doc})
		case errors.Is(err, db.ErrNotFound):
		case subCtx.Err() == nil:
			onError(fmt.Errorf("initial read %s: %w", path, err))
		}

		for {
			select {
			case c, ok := <-out:
				if !ok {
					return
				}
				deliver(c)
			case <-subCtx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}
