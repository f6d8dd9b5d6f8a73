// Package trip implements the shared trip documents: each user's member roster and
// expense book, and each trip's playlist. Every change goes through a collab
// replica and is written back as the whole document.
package trip

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/db/db"
	"tripsync/docstore"
	"tripsync/ledger"
)

type Options struct {
	Policy         collab.ConflictPolicy
	Votes          VotePolicy
	SettleStrategy ledger.SettleStrategy
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Metrics        *collab.Metrics
	// IdleTTL and MaxReplicas bound the cached documents of each pool; zero keeps
	// the collab defaults.
	IdleTTL     time.Duration
	MaxReplicas int
}

// Service bundles the three document services over one store.
type Service struct {
	Roster   *Roster
	Expenses *ExpenseBook
	Playlist *Playlist

	store *docstore.Store
}

func NewService(store *docstore.Store, opts Options) *Service {
	if opts.Votes == nil {
		opts.Votes = PerSongToggle{}
	}
	if opts.SettleStrategy == nil {
		opts.SettleStrategy = ledger.InOrder
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	roster := newRoster(store, opts)
	return &Service{
		Roster:   roster,
		Expenses: newExpenseBook(store, roster, opts),
		Playlist: newPlaylist(store, opts),
		store:    store,
	}
}

func (s *Service) Store() *docstore.Store { return s.store }

// Export lists every document the user owns, ordered by path.
func (s *Service) Export(ctx context.Context, id auth.Identity) ([]db.Document, error) {
	return s.store.List(ctx, UserPrefix(id.UID))
}

// Close stops the subscriptions of every cached document.
func (s *Service) Close() {
	s.Roster.pool.Close()
	s.Expenses.pool.Close()
	s.Playlist.pool.Close()
}

func poolConfig[T any](opts Options, empty func() T) collab.Config[T] {
	return collab.Config[T]{
		Policy:  opts.Policy,
		Empty:   empty,
		Logger:  opts.Logger,
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
	}
}

func poolOptions(opts Options) []collab.PoolOption {
	return []collab.PoolOption{
		collab.WithIdleTTL(opts.IdleTTL),
		collab.WithMaxReplicas(opts.MaxReplicas),
	}
}
