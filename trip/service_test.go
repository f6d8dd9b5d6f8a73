package trip_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/db/db"
	"tripsync/db/mem"
	"tripsync/docstore"
	"tripsync/ledger"
	"tripsync/logging"
	"tripsync/mq/goch"
	"tripsync/trip"
)

var (
	alice = auth.Identity{UID: "uid-alice", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = auth.Identity{UID: "uid-bob", DisplayName: "Bob", Email: "bob@example.com"}
)

type fixture struct {
	svc   *trip.Service
	store *docstore.Store
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, opts trip.Options) *fixture {
	t.Helper()
	q := goch.NewChannelDocMessageQueue(32)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	store := docstore.New(mem.NewInMemoryDocDBWrapperWithClock(clock), q, logging.Discard())
	opts.Clock = clock
	opts.Logger = logging.Discard()
	svc := trip.NewService(store, opts)
	t.Cleanup(func() {
		svc.Close()
		q.Close()
	})
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) version(t *testing.T, path string) int64 {
	t.Helper()
	doc, err := f.store.Read(context.Background(), path)
	if err != nil {
		require.ErrorIs(t, err, db.ErrNotFound)
		return 0
	}
	return doc.Version
}

func TestRoster_SeedsDefaultsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})

	members, err := f.svc.Roster.Members(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, trip.DefaultRoster, members)
	assert.Equal(t, int64(1), f.version(t, trip.MembersPath(alice.UID)))

	_, err = f.svc.Roster.Members(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.version(t, trip.MembersPath(alice.UID)))
}

func TestRoster_SeedsWhenDocumentIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	_, err := f.store.SetWhole(ctx, trip.MembersPath(alice.UID), []byte(`{"list":[]}`))
	require.NoError(t, err)

	members, err := f.svc.Roster.Members(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, members, len(trip.DefaultRoster))
	assert.Equal(t, int64(2), f.version(t, trip.MembersPath(alice.UID)))
}

func TestRoster_KeepsExistingList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	_, err := f.store.SetWhole(ctx, trip.MembersPath(alice.UID), []byte(`{"list":["A","B"]}`))
	require.NoError(t, err)

	members, err := f.svc.Roster.Members(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, members)
}

func TestRoster_AddMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})

	members, err := f.svc.Roster.AddMember(ctx, alice, "  Zoya ")
	require.NoError(t, err)
	assert.Equal(t, "Zoya", members[len(members)-1])
	assert.Len(t, members, len(trip.DefaultRoster)+1)

	_, err = f.svc.Roster.AddMember(ctx, alice, "Zoya")
	assert.ErrorIs(t, err, trip.ErrDuplicateName)

	_, err = f.svc.Roster.AddMember(ctx, alice, "   ")
	assert.ErrorIs(t, err, trip.ErrInvalid)

	// rosters are per user
	other, err := f.svc.Roster.Members(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, trip.DefaultRoster, other)
}

func seedMembers(t *testing.T, f *fixture, id auth.Identity, members string) {
	t.Helper()
	_, err := f.store.SetWhole(context.Background(), trip.MembersPath(id.UID), []byte(members))
	require.NoError(t, err)
}

func TestExpenseBook_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Dinner",
		Amount:      100,
		PaidBy:      "A",
		Policy:      ledger.SplitUnequal,
		Shares:      map[string]float64{"A": 50, "B": 50},
	})
	require.NoError(t, err)

	sum, err := f.svc.Expenses.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"A": 50, "B": -50}, sum.Balances.Map())
	require.Len(t, sum.Settlements, 1)
	assert.Equal(t, ledger.Settlement{From: "B", To: "A", Amount: 50}, sum.Settlements[0])
	assert.Equal(t, 100.0, sum.Total)
	assert.False(t, sum.Settled)
}

func TestExpenseBook_ValidationBlocksWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B","C"]}`)

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Hotel",
		Amount:      300,
		PaidBy:      "A",
		Policy:      ledger.SplitUnequal,
		Shares:      map[string]float64{"A": 100, "B": 50, "C": 100},
	})
	assert.ErrorIs(t, err, ledger.ErrSplitMismatch)

	_, err = f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Hotel",
		Amount:      300,
		PaidBy:      "Z",
		Selection:   []string{"A"},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidExpense)

	assert.Equal(t, int64(0), f.version(t, trip.ExpensesPath(alice.UID)))
}

func TestExpenseBook_RejectsSelectionOutsideRoster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Dinner",
		Amount:      100,
		PaidBy:      "Aditya",
		Policy:      ledger.SplitEqual,
		Selection:   []string{"Aditya", "Ghost"},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidExpense)
	assert.Equal(t, int64(0), f.version(t, trip.ExpensesPath(alice.UID)))

	sum, err := f.svc.Expenses.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, sum.Expenses)
	assert.InDelta(t, 0, sum.Balances.Sum(), 1e-9)
	assert.True(t, sum.Settled)
}

func TestExpenseBook_BalancesSumToZeroAcrossEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B","C"]}`)

	check := func() {
		sum, err := f.svc.Expenses.Summary(ctx, alice)
		require.NoError(t, err)
		assert.InDelta(t, 0, sum.Balances.Sum(), 1e-6)
		applied := ledger.Apply(sum.Balances, sum.Settlements)
		for _, b := range applied {
			assert.Less(t, math.Abs(b.Amount), 0.01, b.Member)
		}
	}

	e1, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "Taxi", Amount: 100, PaidBy: "A", Selection: []string{"A", "B", "C"}})
	require.NoError(t, err)
	check()
	f.clock.Advance(time.Minute)

	e2, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "Snacks", Amount: 45.5, PaidBy: "B", Selection: []string{"B", "C"}})
	require.NoError(t, err)
	check()
	f.clock.Advance(time.Minute)

	_, err = f.svc.Expenses.Edit(ctx, alice, e1.ID, ledger.ExpenseInput{Description: "Taxi", Amount: 120, PaidBy: "C", Policy: ledger.SplitUnequal, Shares: map[string]float64{"A": 60, "B": 60}})
	require.NoError(t, err)
	check()

	require.NoError(t, f.svc.Expenses.Delete(ctx, alice, e2.ID))
	check()

	list, err := f.svc.Expenses.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 120.0, list[0].Amount)
}

func TestExpenseBook_ListNewestFirstAndEditMovesToTop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)

	in := func(d string) ledger.ExpenseInput {
		return ledger.ExpenseInput{Description: d, Amount: 10, PaidBy: "A", Selection: []string{"A", "B"}}
	}
	first, err := f.svc.Expenses.Add(ctx, alice, in("first"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Expenses.Add(ctx, alice, in("second"))
	require.NoError(t, err)

	list, err := f.svc.Expenses.List(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "second", list[0].Description)

	f.clock.Advance(time.Minute)
	edited, err := f.svc.Expenses.Edit(ctx, alice, first.ID, in("first, edited"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, edited.ID)

	list, err = f.svc.Expenses.List(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "first, edited", list[0].Description)
	assert.True(t, f.clock.Now().Equal(list[0].CreatedAt))
}

func TestExpenseBook_MissingIDWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)
	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "x", Amount: 10, PaidBy: "A", Selection: []string{"A"}})
	require.NoError(t, err)
	before := f.version(t, trip.ExpensesPath(alice.UID))

	err = f.svc.Expenses.Delete(ctx, alice, "nope")
	assert.ErrorIs(t, err, trip.ErrNotFound)
	_, err = f.svc.Expenses.Edit(ctx, alice, "nope", ledger.ExpenseInput{Description: "x", Amount: 10, PaidBy: "A", Selection: []string{"A"}})
	assert.ErrorIs(t, err, trip.ErrNotFound)

	assert.Equal(t, before, f.version(t, trip.ExpensesPath(alice.UID)))
}

func TestExpenseBook_AllSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})

	sum, err := f.svc.Expenses.Summary(ctx, alice)
	require.NoError(t, err)
	assert.True(t, sum.Settled)
	assert.Empty(t, sum.Settlements)
	assert.Equal(t, 0.0, sum.Total)
}

func TestExpenseBook_SettleStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{SettleStrategy: ledger.ByMagnitude})
	seedMembers(t, f, alice, `{"list":["A","B","C"]}`)

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "x", Amount: 30, PaidBy: "A", Policy: ledger.SplitUnequal, Shares: map[string]float64{"B": 10, "C": 20}})
	require.NoError(t, err)

	sum, err := f.svc.Expenses.Summary(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sum.Settlements, 2)
	assert.Equal(t, "C", sum.Settlements[0].From)
}

func TestExpenseBook_LoadSummaryBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)
	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "x", Amount: 10, PaidBy: "A", Selection: []string{"A", "B"}})
	require.NoError(t, err)

	lctx := db.WithLoader(ctx, db.NewDocDataLoader(f.store.DB()))
	sum, err := f.svc.Expenses.LoadSummary(lctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sum.Members)
	assert.Len(t, sum.Expenses, 1)
	assert.Equal(t, map[string]float64{"A": 5, "B": -5}, sum.Balances.Map())

	// bob has nothing stored yet
	sum, err = f.svc.Expenses.LoadSummary(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, trip.DefaultRoster, sum.Members)
	assert.Empty(t, sum.Expenses)
}

func TestService_VersionCheckedPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{Policy: collab.VersionChecked})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "x", Amount: 10, PaidBy: "A", Selection: []string{"A"}})
	require.NoError(t, err)

	// another client overwrites the document behind the cached replica's back
	_, err = f.store.SetWhole(ctx, trip.ExpensesPath(alice.UID), []byte(`{"expenses":[]}`))
	require.NoError(t, err)

	// the pooled replica follows pushes, so eventually it writes against the right version
	assert.Eventually(t, func() bool {
		list, err := f.svc.Expenses.List(ctx, alice)
		return err == nil && len(list) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "y", Amount: 10, PaidBy: "A", Selection: []string{"A"}})
	require.NoError(t, err)
}

func TestExpenseBook_EditFormRecoversInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B","C"]}`)

	equal, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Taxi",
		Amount:      90,
		PaidBy:      "C",
		Selection:   []string{"B", "A"},
	})
	require.NoError(t, err)
	unequal, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{
		Description: "Hotel",
		Amount:      300,
		PaidBy:      "A",
		Policy:      ledger.SplitUnequal,
		Shares:      map[string]float64{"A": 100, "B": 200},
	})
	require.NoError(t, err)

	in, err := f.svc.Expenses.EditForm(ctx, alice, equal.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SplitEqual, in.Policy)
	assert.Equal(t, []string{"A", "B"}, in.Selection)
	assert.Equal(t, "C", in.PaidBy)
	assert.Equal(t, 90.0, in.Amount)

	in, err = f.svc.Expenses.EditForm(ctx, alice, unequal.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SplitUnequal, in.Policy)
	assert.Equal(t, map[string]float64{"A": 100, "B": 200, "C": 0}, in.Shares)

	// the recovered form builds the same splits again
	rebuilt, err := in.Build([]string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, unequal.Splits, rebuilt.Splits)

	_, err = f.svc.Expenses.EditForm(ctx, alice, "missing")
	assert.ErrorIs(t, err, trip.ErrNotFound)
}

func TestExpenseBook_ClearDeletesDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)

	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "Fuel", Amount: 40, PaidBy: "A", Selection: []string{"A", "B"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), f.version(t, trip.ExpensesPath(alice.UID)))

	require.NoError(t, f.svc.Expenses.Clear(ctx, alice))
	assert.Equal(t, int64(0), f.version(t, trip.ExpensesPath(alice.UID)))
	assert.Eventually(t, func() bool {
		list, err := f.svc.Expenses.List(ctx, alice)
		return err == nil && len(list) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// clearing an absent book is not an error
	require.NoError(t, f.svc.Expenses.Clear(ctx, alice))

	_, err = f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "Snacks", Amount: 10, PaidBy: "B", Selection: []string{"B"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.version(t, trip.ExpensesPath(alice.UID)))
}

func TestService_ExportListsOwnDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, trip.Options{})
	seedMembers(t, f, alice, `{"list":["A","B"]}`)
	seedMembers(t, f, bob, `{"list":["C"]}`)
	_, err := f.svc.Expenses.Add(ctx, alice, ledger.ExpenseInput{Description: "Fuel", Amount: 40, PaidBy: "A", Selection: []string{"A", "B"}})
	require.NoError(t, err)

	docs, err := f.svc.Export(ctx, alice)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, trip.MembersPath(alice.UID), docs[0].Path)
	assert.JSONEq(t, `{"list":["A","B"]}`, string(docs[0].Data))
	assert.Equal(t, trip.ExpensesPath(alice.UID), docs[1].Path)
	assert.Equal(t, int64(1), docs[1].Version)
}
