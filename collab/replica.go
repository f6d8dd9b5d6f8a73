// Package collab keeps a local, optimistic copy of one shared JSON document and
// applies read-modify-write mutations to it.
//
// A mutation reads the local copy (or the store, with WithFreshRead), derives a new
// value from it, installs that value locally right away and then persists the whole
// document. Pushes from the store's subscription replace the local copy whenever
// they carry a newer version.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"tripsync/db/db"
	"tripsync/docstore"
	"tripsync/libs/diff"
)

type Config[T any] struct {
	Path   string
	Policy ConflictPolicy
	// Empty builds the value used while the document does not exist.
	Empty   func() T
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Metrics *Metrics
}

type Replica[T any] struct {
	store   *docstore.Store
	path    string
	kind    string
	policy  ConflictPolicy
	empty   func() T
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *Metrics

	// pipeline serializes Mutate calls
	pipeline sync.Mutex

	mu       sync.RWMutex
	data     []byte
	version  int64
	syncedAt time.Time
	// epoch counts local copy replacements; Refresh uses it to spot pushes that
	// landed while its read was in flight.
	epoch uint64

	subMu       sync.Mutex
	unsubscribe func()
}

func NewReplica[T any](store *docstore.Store, cfg Config[T]) *Replica[T] {
	if cfg.Empty == nil {
		cfg.Empty = func() T {
			var zero T
			return zero
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Replica[T]{
		store:   store,
		path:    cfg.Path,
		kind:    kindOf(cfg.Path),
		policy:  cfg.Policy,
		empty:   cfg.Empty,
		logger:  cfg.Logger.With("path", cfg.Path),
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
	}
}

// kindOf drops the id segments of a path, "users/u1/data/members" -> "users/data/members",
// so metric labels stay bounded.
func kindOf(path string) string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i%2 == 0 {
			out = append(out, p)
		}
	}
	if len(parts)%2 == 0 {
		out = append(out, parts[len(parts)-1])
	}
	return strings.Join(out, "/")
}

func (r *Replica[T]) Path() string { return r.path }

func (r *Replica[T]) Policy() ConflictPolicy { return r.policy }

// Version is the store version the local copy was last synced from; 0 means absent.
func (r *Replica[T]) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// SyncedAt is when the local copy last came from the store.
func (r *Replica[T]) SyncedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.syncedAt
}

// Snapshot returns a private copy of the latest known local value.
func (r *Replica[T]) Snapshot() T {
	v, _ := r.snapshot()
	return v
}

func (r *Replica[T]) snapshot() (T, int64) {
	r.mu.RLock()
	data, version := r.data, r.version
	r.mu.RUnlock()

	if data == nil {
		return r.empty(), version
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		r.logger.Error("local copy is not decodable, using empty value", "error", err)
		return r.empty(), version
	}
	return v, version
}

func (r *Replica[T]) setLocal(data []byte, version int64, synced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.version = version
	r.epoch++
	if synced {
		r.syncedAt = r.clock.Now()
	}
}

// Refresh replaces the local copy with a point read from the store.
func (r *Replica[T]) Refresh(ctx context.Context) error {
	r.mu.RLock()
	epoch := r.epoch
	r.mu.RUnlock()

	doc, err := r.store.Read(ctx, r.path)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("refresh %s: %w", r.path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// absent at read time; anything installed since is newer than that
		if r.epoch == epoch {
			r.data, r.version = nil, 0
			r.epoch++
			r.syncedAt = r.clock.Now()
		}
		return nil
	}
	// a push may have delivered something newer while the read was in flight
	if doc.Version >= r.version {
		r.data = doc.Data
		r.version = doc.Version
		r.epoch++
		r.syncedAt = r.clock.Now()
	}
	return nil
}

// Start subscribes to the document. Cancelling ctx or calling Stop ends the subscription.
func (r *Replica[T]) Start(ctx context.Context) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.unsubscribe != nil {
		return nil
	}

	unsubscribe, err := r.store.Subscribe(ctx, r.path, r.applyPush, func(err error) {
		r.logger.Warn("subscription error", "error", err)
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", r.path, err)
	}
	r.unsubscribe = unsubscribe
	return nil
}

func (r *Replica[T]) Stop() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Replica[T]) applyPush(c docstore.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case c.Deleted:
		r.data, r.version = nil, 0
	case c.Doc.Version > r.version:
		r.data, r.version = c.Doc.Data, c.Doc.Version
	default:
		return
	}
	r.epoch++
	r.syncedAt = r.clock.Now()
	r.metrics.push(r.kind)
}

type mutateOptions struct {
	freshRead bool
}

type MutateOption func(*mutateOptions)

// WithFreshRead makes Mutate start from a point read instead of the local copy.
func WithFreshRead() MutateOption {
	return func(o *mutateOptions) { o.freshRead = true }
}

// Mutate runs fn on a copy of the current value and persists the result as the
// whole document. An error from fn aborts before anything changes, and ErrSkip
// returns the current value untouched. Once fn
// succeeds the local copy holds its result even if persisting fails; that
// failure is logged and returned. Under VersionChecked a concurrent write makes
// Mutate return ErrConflict after reloading the local copy from the store.
//
// The store write ignores cancellation of ctx once it has been issued.
func (r *Replica[T]) Mutate(ctx context.Context, fn func(T) (T, error), opts ...MutateOption) (T, error) {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.pipeline.Lock()
	defer r.pipeline.Unlock()

	var zero T
	if o.freshRead {
		if err := r.Refresh(ctx); err != nil {
			r.metrics.mutation(r.kind, resultAborted)
			return zero, err
		}
	}

	base, baseVersion := r.snapshot()
	var before T
	debug := r.logger.Enabled(ctx, slog.LevelDebug)
	if debug {
		// fn may modify base in place
		before, _ = r.snapshot()
	}
	next, err := fn(base)
	if errors.Is(err, ErrSkip) {
		r.metrics.mutation(r.kind, resultSkipped)
		v, _ := r.snapshot()
		return v, nil
	}
	if err != nil {
		r.metrics.mutation(r.kind, resultAborted)
		return zero, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		r.metrics.mutation(r.kind, resultAborted)
		return zero, fmt.Errorf("encode %s: %w", r.path, err)
	}
	if debug {
		r.logChanges(before, next)
	}

	r.setLocal(data, baseVersion, false)

	wctx := context.WithoutCancel(ctx)
	var doc *db.Document
	switch r.policy {
	case VersionChecked:
		doc, err = r.store.WriteIfVersion(wctx, r.path, data, baseVersion)
	default:
		doc, err = r.store.SetWhole(wctx, r.path, data)
	}

	if errors.Is(err, db.ErrVersionConflict) {
		r.metrics.mutation(r.kind, resultConflict)
		r.logger.Info("write rejected by concurrent change, reloading", "baseVersion", baseVersion)
		if rerr := r.Refresh(wctx); rerr != nil {
			r.logger.Warn("reload after conflict failed", "error", rerr)
		}
		return zero, fmt.Errorf("%w: %s at version %d", ErrConflict, r.path, baseVersion)
	}
	if err != nil {
		r.metrics.mutation(r.kind, resultFailed)
		r.logger.Error("failed to persist mutation, keeping local copy", "error", err)
		return next, err
	}

	r.mu.Lock()
	if doc.Version > r.version {
		r.version = doc.Version
		r.data = data
		r.epoch++
		r.syncedAt = r.clock.Now()
	}
	r.mu.Unlock()

	r.metrics.mutation(r.kind, resultOK)
	return next, nil
}

func (r *Replica[T]) logChanges(before, after T) {
	cl, err := diff.Changes(before, after)
	if err != nil {
		r.logger.Debug("could not diff mutation", "error", err)
		return
	}
	r.logger.Debug("mutation", "changes", diff.Paths(cl))
}
