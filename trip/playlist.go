package trip

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/docstore"
)

// Playlist is the shared song list of one trip.
type Playlist struct {
	pool   *collab.Pool[PlaylistDoc]
	votes  VotePolicy
	clock  clockwork.Clock
	logger *slog.Logger
}

func newPlaylist(store *docstore.Store, opts Options) *Playlist {
	return &Playlist{
		pool: collab.NewPool(store, poolConfig(opts, func() PlaylistDoc {
			return PlaylistDoc{Songs: []Song{}}
		}), poolOptions(opts)...),
		votes:  opts.Votes,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "playlist"),
	}
}

func (p *Playlist) VotePolicy() VotePolicy { return p.votes }

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (p *Playlist) Songs(ctx context.Context, tripID string) ([]Song, error) {
	rep, release, err := p.pool.Acquire(ctx, PlaylistPath(tripID))
	if err != nil {
		return nil, err
	}
	defer release()
	return rep.Snapshot().Songs, nil
}

// Add appends a song owned by id. Names are unique ignoring case and
// surrounding space.
func (p *Playlist) Add(ctx context.Context, id auth.Identity, tripID, name string) (Song, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Song{}, fmt.Errorf("%w: song name is required", ErrInvalid)
	}
	rep, release, err := p.pool.Acquire(ctx, PlaylistPath(tripID))
	if err != nil {
		return Song{}, err
	}
	defer release()

	song := Song{
		ID:         uuid.NewString(),
		Name:       name,
		AddedBy:    id.DisplayName,
		AddedByUID: id.UID,
		Votes:      []string{},
		CreatedAt:  p.clock.Now(),
	}
	key := normalizeName(name)
	_, err = rep.Mutate(ctx, func(d PlaylistDoc) (PlaylistDoc, error) {
		for _, s := range d.Songs {
			if normalizeName(s.Name) == key {
				return d, fmt.Errorf("%w: %q", ErrDuplicateSong, s.Name)
			}
		}
		d.Songs = append(d.Songs, song)
		return d, nil
	})
	if err != nil {
		return Song{}, err
	}
	return song, nil
}

// Remove deletes songID if id added it.
func (p *Playlist) Remove(ctx context.Context, id auth.Identity, tripID, songID string) error {
	rep, release, err := p.pool.Acquire(ctx, PlaylistPath(tripID))
	if err != nil {
		return err
	}
	defer release()
	_, err = rep.Mutate(ctx, func(d PlaylistDoc) (PlaylistDoc, error) {
		i := slices.IndexFunc(d.Songs, func(s Song) bool { return s.ID == songID })
		if i < 0 {
			return d, fmt.Errorf("%w: song %s", ErrNotFound, songID)
		}
		if d.Songs[i].AddedByUID != id.UID {
			return d, ErrNotOwner
		}
		d.Songs = slices.Delete(d.Songs, i, i+1)
		return d, nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("song removed", "trip", tripID, "song", songID, "uid", id.UID)
	return nil
}

// ToggleVote applies the vote policy for id on songID. It starts from a fresh
// read, since votes are the most contended part of the playlist.
func (p *Playlist) ToggleVote(ctx context.Context, id auth.Identity, tripID, songID string) (Song, error) {
	rep, release, err := p.pool.Acquire(ctx, PlaylistPath(tripID))
	if err != nil {
		return Song{}, err
	}
	defer release()
	var voted Song
	_, err = rep.Mutate(ctx, func(d PlaylistDoc) (PlaylistDoc, error) {
		i := slices.IndexFunc(d.Songs, func(s Song) bool { return s.ID == songID })
		if i < 0 {
			return d, fmt.Errorf("%w: song %s", ErrNotFound, songID)
		}
		if err := p.votes.Toggle(d.Songs, i, id); err != nil {
			return d, err
		}
		voted = d.Songs[i]
		return d, nil
	}, collab.WithFreshRead())
	if err != nil {
		return Song{}, err
	}
	return voted, nil
}
