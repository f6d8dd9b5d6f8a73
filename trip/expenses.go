package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/db/db"
	"tripsync/docstore"
	"tripsync/ledger"
)

// ExpenseBook is the per-user list of shared expenses and what follows from it.
type ExpenseBook struct {
	pool     *collab.Pool[ExpensesDoc]
	roster   *Roster
	store    *docstore.Store
	clock    clockwork.Clock
	strategy ledger.SettleStrategy
	logger   *slog.Logger
}

func newExpenseBook(store *docstore.Store, roster *Roster, opts Options) *ExpenseBook {
	return &ExpenseBook{
		pool: collab.NewPool(store, poolConfig(opts, func() ExpensesDoc {
			return ExpensesDoc{Expenses: []ledger.Expense{}}
		}), poolOptions(opts)...),
		roster:   roster,
		store:    store,
		clock:    opts.Clock,
		strategy: opts.SettleStrategy,
		logger:   opts.Logger.With("component", "expenses"),
	}
}

// newestFirst orders by CreatedAt descending; ties keep document order.
func newestFirst(expenses []ledger.Expense) []ledger.Expense {
	out := make([]ledger.Expense, len(expenses))
	copy(out, expenses)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// List returns the user's expenses, newest first.
func (b *ExpenseBook) List(ctx context.Context, id auth.Identity) ([]ledger.Expense, error) {
	rep, release, err := b.pool.Acquire(ctx, ExpensesPath(id.UID))
	if err != nil {
		return nil, err
	}
	defer release()
	return newestFirst(rep.Snapshot().Expenses), nil
}

// Add validates in against the roster and appends it as a new expense.
func (b *ExpenseBook) Add(ctx context.Context, id auth.Identity, in ledger.ExpenseInput) (ledger.Expense, error) {
	members, err := b.roster.Members(ctx, id)
	if err != nil {
		return ledger.Expense{}, err
	}
	e, err := in.Build(members)
	if err != nil {
		return ledger.Expense{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = b.clock.Now()

	rep, release, err := b.pool.Acquire(ctx, ExpensesPath(id.UID))
	if err != nil {
		return ledger.Expense{}, err
	}
	defer release()
	if _, err := rep.Mutate(ctx, func(d ExpensesDoc) (ExpensesDoc, error) {
		d.Expenses = append(d.Expenses, e)
		return d, nil
	}); err != nil {
		return e, err
	}
	b.logger.Info("expense added", "uid", id.UID, "expense", e.ID, "amount", ledger.FormatAmount(e.Amount), "paidBy", e.PaidBy)
	return e, nil
}

// Edit replaces the expense with expenseID. The edited entry gets a fresh
// CreatedAt, so it moves to the top of the list.
func (b *ExpenseBook) Edit(ctx context.Context, id auth.Identity, expenseID string, in ledger.ExpenseInput) (ledger.Expense, error) {
	members, err := b.roster.Members(ctx, id)
	if err != nil {
		return ledger.Expense{}, err
	}
	e, err := in.Build(members)
	if err != nil {
		return ledger.Expense{}, err
	}
	e.ID = expenseID
	e.CreatedAt = b.clock.Now()

	rep, release, err := b.pool.Acquire(ctx, ExpensesPath(id.UID))
	if err != nil {
		return ledger.Expense{}, err
	}
	defer release()
	if _, err := rep.Mutate(ctx, func(d ExpensesDoc) (ExpensesDoc, error) {
		i := slices.IndexFunc(d.Expenses, func(x ledger.Expense) bool { return x.ID == expenseID })
		if i < 0 {
			return d, fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
		}
		d.Expenses[i] = e
		return d, nil
	}); err != nil {
		return ledger.Expense{}, err
	}
	return e, nil
}

// Delete removes the expense with expenseID; a missing id writes nothing.
func (b *ExpenseBook) Delete(ctx context.Context, id auth.Identity, expenseID string) error {
	rep, release, err := b.pool.Acquire(ctx, ExpensesPath(id.UID))
	if err != nil {
		return err
	}
	defer release()
	_, err = rep.Mutate(ctx, func(d ExpensesDoc) (ExpensesDoc, error) {
		n := len(d.Expenses)
		d.Expenses = slices.DeleteFunc(d.Expenses, func(x ledger.Expense) bool { return x.ID == expenseID })
		if len(d.Expenses) == n {
			return d, fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
		}
		return d, nil
	})
	return err
}

// EditForm returns the stored expense as an input ready to be edited, with the
// split policy and selection recovered from its shares.
func (b *ExpenseBook) EditForm(ctx context.Context, id auth.Identity, expenseID string) (ledger.ExpenseInput, error) {
	members, err := b.roster.Members(ctx, id)
	if err != nil {
		return ledger.ExpenseInput{}, err
	}
	rep, release, err := b.pool.Acquire(ctx, ExpensesPath(id.UID))
	if err != nil {
		return ledger.ExpenseInput{}, err
	}
	defer release()
	expenses := rep.Snapshot().Expenses
	i := slices.IndexFunc(expenses, func(x ledger.Expense) bool { return x.ID == expenseID })
	if i < 0 {
		return ledger.ExpenseInput{}, fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
	}
	return ledger.EditForm(expenses[i], members), nil
}

// Clear deletes the whole expense document; an absent document is already clear. Watchers see the delete and fall back
// to an empty list.
func (b *ExpenseBook) Clear(ctx context.Context, id auth.Identity) error {
	err := b.store.Delete(ctx, ExpensesPath(id.UID))
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b.logger.Info("expenses cleared", "uid", id.UID)
	return nil
}

// Summary derives balances and settlements from the current roster and expenses.
func (b *ExpenseBook) Summary(ctx context.Context, id auth.Identity) (Summary, error) {
	members, err := b.roster.Members(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	expenses, err := b.List(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return b.summarize(members, expenses), nil
}

func (b *ExpenseBook) summarize(members []string, expenses []ledger.Expense) Summary {
	balances := ledger.ComputeBalances(members, expenses)
	settlements := ledger.SettleWith(balances, b.strategy)
	return Summary{
		Members:     members,
		Expenses:    expenses,
		Balances:    balances,
		Settlements: settlements,
		Total:       ledger.TotalSpent(expenses),
		Settled:     len(settlements) == 0,
	}
}

// LoadSummary reads the member and expense documents in one batched load and
// derives the summary from them, without touching the replica cache. An absent
// roster yields DefaultRoster.
func (b *ExpenseBook) LoadSummary(ctx context.Context, id auth.Identity) (Summary, error) {
	membersPath, expensesPath := MembersPath(id.UID), ExpensesPath(id.UID)
	docs, err := b.store.ReadMany(ctx, []string{membersPath, expensesPath})
	if err != nil {
		return Summary{}, err
	}

	var m MembersDoc
	if err := decodeDoc(docs[membersPath], &m); err != nil {
		return Summary{}, err
	}
	if len(m.List) == 0 {
		m.List = slices.Clone(DefaultRoster)
	}
	var e ExpensesDoc
	if err := decodeDoc(docs[expensesPath], &e); err != nil {
		return Summary{}, err
	}
	if e.Expenses == nil {
		e.Expenses = []ledger.Expense{}
	}
	return b.summarize(m.List, newestFirst(e.Expenses)), nil
}

func decodeDoc(doc *db.Document, v any) error {
	if doc == nil {
		return nil
	}
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	return nil
}
