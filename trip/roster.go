package trip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/docstore"
)

// Roster is the per-user member list. Members are never removed.
type Roster struct {
	pool   *collab.Pool[MembersDoc]
	store  *docstore.Store
	logger *slog.Logger
}

func newRoster(store *docstore.Store, opts Options) *Roster {
	return &Roster{
		pool: collab.NewPool(store, poolConfig(opts, func() MembersDoc {
			return MembersDoc{List: []string{}}
		}), poolOptions(opts)...),
		store:  store,
		logger: opts.Logger.With("component", "roster"),
	}
}

// Members returns the user's roster, seeding DefaultRoster when it is absent or
// empty. Two first loads racing each other both write the same defaults.
func (r *Roster) Members(ctx context.Context, id auth.Identity) ([]string, error) {
	rep, release, err := r.pool.Acquire(ctx, MembersPath(id.UID))
	if err != nil {
		return nil, err
	}
	defer release()
	if snap := rep.Snapshot(); len(snap.List) > 0 {
		return snap.List, nil
	}
	// the local copy may lag a roster another instance just wrote
	stored, ok, err := r.stored(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	if ok {
		return stored, nil
	}

	doc, err := rep.Mutate(ctx, func(d MembersDoc) (MembersDoc, error) {
		if len(d.List) > 0 {
			return d, collab.ErrSkip
		}
		d.List = slices.Clone(DefaultRoster)
		return d, nil
	}, collab.WithFreshRead())
	if err != nil {
		// the defaults are in the local copy even if the seed write failed
		r.logger.Warn("failed to seed default members", "uid", id.UID, "error", err)
		if len(doc.List) > 0 {
			return doc.List, nil
		}
		return nil, err
	}
	r.logger.Debug("roster loaded", "uid", id.UID, "members", len(doc.List))
	return doc.List, nil
}

// stored reads the roster straight from the store. ok is false when it is absent or empty.
func (r *Roster) stored(ctx context.Context, uid string) ([]string, bool, error) {
	data, ok, err := r.store.GetOnce(ctx, MembersPath(uid))
	if err != nil || !ok {
		return nil, false, err
	}
	var d MembersDoc
	if err := json.Unmarshal(data, &d); err != nil {
		// reseeding overwrites it, as the replica would
		r.logger.Warn("stored roster is not decodable", "uid", uid, "error", err)
		return nil, false, nil
	}
	return d.List, len(d.List) > 0, nil
}

// AddMember appends a trimmed, non-empty, not yet present name.
func (r *Roster) AddMember(ctx context.Context, id auth.Identity, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: member name is required", ErrInvalid)
	}
	// make sure the defaults are in place first
	if _, err := r.Members(ctx, id); err != nil {
		return nil, err
	}
	rep, release, err := r.pool.Acquire(ctx, MembersPath(id.UID))
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := rep.Mutate(ctx, func(d MembersDoc) (MembersDoc, error) {
		if slices.Contains(d.List, name) {
			return d, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		d.List = append(d.List, name)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return doc.List, nil
}
