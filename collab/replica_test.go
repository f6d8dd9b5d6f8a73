package collab_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/collab"
	"tripsync/db/db"
	"tripsync/db/mem"
	"tripsync/docstore"
	"tripsync/logging"
	"tripsync/mq/goch"
)

type list struct {
	Items []string `json:"items"`
}

func appendItem(s string) func(list) (list, error) {
	return func(l list) (list, error) {
		l.Items = append(l.Items, s)
		return l, nil
	}
}

type env struct {
	db    db.DocDBWrapper
	store *docstore.Store
	clock *clockwork.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	q := goch.NewChannelDocMessageQueue(16)
	t.Cleanup(q.Close)
	dbw := mem.NewInMemoryDocDBWrapper()
	return &env{
		db:    dbw,
		store: docstore.New(dbw, q, logging.Discard()),
		clock: clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func (e *env) replica(path string, policy collab.ConflictPolicy) *collab.Replica[list] {
	return collab.NewReplica(e.store, collab.Config[list]{
		Path:   path,
		Policy: policy,
		Empty:  func() list { return list{Items: []string{}} },
		Logger: logging.Discard(),
		Clock:  e.clock,
	})
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestReplica_MutatePersistsWholeDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.replica("docs/a", collab.LastWriterWins)

	assert.Equal(t, []string{}, r.Snapshot().Items)

	got, err := r.Mutate(ctx, appendItem("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Items)
	assert.Equal(t, int64(1), r.Version())
	assert.Equal(t, e.clock.Now(), r.SyncedAt())

	doc, err := e.store.Read(ctx, "docs/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["x"]}`, string(doc.Data))
}

func TestReplica_MutateWorksOnACopy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.replica("docs/a", collab.LastWriterWins)
	_, err := r.Mutate(ctx, appendItem("x"))
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.Items[0] = "changed"
	assert.Equal(t, []string{"x"}, r.Snapshot().Items)
}

func TestReplica_FnErrorAbortsWithoutWrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.replica("docs/a", collab.LastWriterWins)
	_, err := r.Mutate(ctx, appendItem("x"))
	require.NoError(t, err)

	boom := errors.New("rule violated")
	_, err = r.Mutate(ctx, func(l list) (list, error) {
		l.Items = append(l.Items, "y")
		return l, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"x"}, r.Snapshot().Items)

	doc, err := e.store.Read(ctx, "docs/a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

// Two clients mutate from the same stale snapshot: the later write replaces the
// earlier one entirely.
func TestReplica_LastWriterWinsLosesConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.replica("docs/shared", collab.LastWriterWins)
	b := e.replica("docs/shared", collab.LastWriterWins)

	_, err := a.Mutate(ctx, appendItem("seed"))
	require.NoError(t, err)
	require.NoError(t, b.Refresh(ctx))

	_, err = a.Mutate(ctx, appendItem("from-a"))
	require.NoError(t, err)
	_, err = b.Mutate(ctx, appendItem("from-b"))
	require.NoError(t, err)

	doc, err := e.store.Read(ctx, "docs/shared")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["seed","from-b"]}`, string(doc.Data))
	assert.Equal(t, int64(3), doc.Version)
}

func TestReplica_VersionCheckedDetectsConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.replica("docs/shared", collab.VersionChecked)
	b := e.replica("docs/shared", collab.VersionChecked)

	_, err := a.Mutate(ctx, appendItem("seed"))
	require.NoError(t, err)
	require.NoError(t, b.Refresh(ctx))

	_, err = a.Mutate(ctx, appendItem("from-a"))
	require.NoError(t, err)
	_, err = b.Mutate(ctx, appendItem("from-b"))
	assert.ErrorIs(t, err, collab.ErrConflict)

	// b reconciled to the stored state
	assert.Equal(t, []string{"seed", "from-a"}, b.Snapshot().Items)
	assert.Equal(t, int64(2), b.Version())

	// retrying on the reconciled copy succeeds
	_, err = b.Mutate(ctx, appendItem("from-b"))
	require.NoError(t, err)
	doc, err := e.store.Read(ctx, "docs/shared")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["seed","from-a","from-b"]}`, string(doc.Data))
}

func TestReplica_VersionCheckedFirstWriteRace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.replica("docs/new", collab.VersionChecked)
	b := e.replica("docs/new", collab.VersionChecked)

	_, err := a.Mutate(ctx, appendItem("a"))
	require.NoError(t, err)
	_, err = b.Mutate(ctx, appendItem("b"))
	assert.ErrorIs(t, err, collab.ErrConflict)
	assert.Equal(t, []string{"a"}, b.Snapshot().Items)
}

func TestReplica_WithFreshReadAvoidsStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.replica("docs/shared", collab.LastWriterWins)
	b := e.replica("docs/shared", collab.LastWriterWins)

	_, err := a.Mutate(ctx, appendItem("from-a"))
	require.NoError(t, err)

	_, err = b.Mutate(ctx, appendItem("from-b"), collab.WithFreshRead())
	require.NoError(t, err)

	doc, err := e.store.Read(ctx, "docs/shared")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["from-a","from-b"]}`, string(doc.Data))
}

type failingWrites struct {
	db.DocDBWrapper
}

var errDiskFull = errors.New("disk full")

func (f failingWrites) PutDocument(context.Context, string, []byte) (*db.Document, error) {
	return nil, errDiskFull
}

func TestReplica_PersistFailureKeepsOptimisticState(t *testing.T) {
	ctx := context.Background()
	store := docstore.New(failingWrites{mem.NewInMemoryDocDBWrapper()}, nil, logging.Discard())
	reg := prometheus.NewRegistry()
	metrics := collab.NewMetrics(reg)
	r := collab.NewReplica(store, collab.Config[list]{
		Path:    "users/u1/expenses",
		Logger:  logging.Discard(),
		Metrics: metrics,
	})

	got, err := r.Mutate(ctx, appendItem("x"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, []string{"x"}, got.Items)
	assert.Equal(t, []string{"x"}, r.Snapshot().Items)
	assert.Equal(t, int64(0), r.Version())

	_, err = store.Read(ctx, "users/u1/expenses")
	assert.ErrorIs(t, err, db.ErrNotFound)

	n, err := testutil.GatherAndCount(reg, "tripsync_collab_mutations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type midReadKey struct{}

// racingReads runs during after the underlying read of a context marked with
// midReadKey, before the result is returned.
type racingReads struct {
	db.DocDBWrapper
	during *func()
}

func (r racingReads) GetDocument(ctx context.Context, path string) (*db.Document, error) {
	doc, err := r.DocDBWrapper.GetDocument(ctx, path)
	if ctx.Value(midReadKey{}) != nil && *r.during != nil {
		(*r.during)()
	}
	return doc, err
}

func TestReplica_RefreshKeepsPushThatRacedNotFound(t *testing.T) {
	ctx := context.Background()
	q := goch.NewChannelDocMessageQueue(16)
	t.Cleanup(q.Close)
	var during func()
	store := docstore.New(racingReads{DocDBWrapper: mem.NewInMemoryDocDBWrapper(), during: &during}, q, logging.Discard())
	r := collab.NewReplica(store, collab.Config[list]{
		Path:   "docs/raced",
		Empty:  func() list { return list{Items: []string{}} },
		Logger: logging.Discard(),
	})
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// the document is created and pushed after the refresh read saw it missing
	during = func() {
		_, err := store.SetWhole(context.Background(), "docs/raced", []byte(`{"items":["pushed"]}`))
		require.NoError(t, err)
		eventually(t, func() bool { return r.Version() == 1 })
	}
	require.NoError(t, r.Refresh(context.WithValue(ctx, midReadKey{}, true)))

	assert.Equal(t, int64(1), r.Version())
	assert.Equal(t, []string{"pushed"}, r.Snapshot().Items)

	// with nothing racing, a missing document still resets the local copy
	during = nil
	require.NoError(t, store.Delete(ctx, "docs/raced"))
	eventually(t, func() bool { return r.Version() == 0 })
	require.NoError(t, r.Refresh(context.WithValue(ctx, midReadKey{}, true)))
	assert.Equal(t, []string{}, r.Snapshot().Items)
}

func TestReplica_SubscriptionPushesNewerVersions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t)
	writer := e.replica("docs/shared", collab.LastWriterWins)
	reader := e.replica("docs/shared", collab.LastWriterWins)
	require.NoError(t, reader.Start(ctx))
	defer reader.Stop()

	_, err := writer.Mutate(ctx, appendItem("one"))
	require.NoError(t, err)
	eventually(t, func() bool { return reader.Version() == 1 })

	_, err = writer.Mutate(ctx, appendItem("two"))
	require.NoError(t, err)
	eventually(t, func() bool { return reader.Version() == 2 })
	assert.Equal(t, []string{"one", "two"}, reader.Snapshot().Items)
}

func TestReplica_StopEndsPushes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	writer := e.replica("docs/shared", collab.LastWriterWins)
	reader := e.replica("docs/shared", collab.LastWriterWins)
	require.NoError(t, reader.Start(ctx))
	reader.Stop()
	reader.Stop()

	time.Sleep(50 * time.Millisecond)
	_, err := writer.Mutate(ctx, appendItem("one"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), reader.Version())
}

func TestReplica_MutateIgnoresCancelledContextForWrite(t *testing.T) {
	e := newEnv(t)
	r := e.replica("docs/a", collab.LastWriterWins)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Mutate(ctx, appendItem("x"))
	require.NoError(t, err)

	doc, err := e.store.Read(context.Background(), "docs/a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

func TestPolicyByName(t *testing.T) {
	p, err := collab.PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, collab.LastWriterWins, p)

	p, err = collab.PolicyByName("version")
	require.NoError(t, err)
	assert.Equal(t, collab.VersionChecked, p)
	assert.Equal(t, "version", p.String())

	_, err = collab.PolicyByName("merge")
	assert.ErrorIs(t, err, collab.ErrUnknownPolicy)
}

func TestReplica_SkipLeavesDocumentUntouched(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.replica("docs/a", collab.LastWriterWins)
	_, err := r.Mutate(ctx, appendItem("x"))
	require.NoError(t, err)

	got, err := r.Mutate(ctx, func(l list) (list, error) {
		l.Items = append(l.Items, "ignored")
		return l, collab.ErrSkip
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Items)

	doc, err := e.store.Read(ctx, "docs/a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}
