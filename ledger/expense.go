package ledger

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Validate checks the fields an expense form must carry before it can be saved.
func (e Expense) Validate(members []string) error {
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidExpense)
	}
	if e.Amount <= 0 || math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}
	if e.PaidBy == "" {
		return fmt.Errorf("%w: payer is required", ErrInvalidExpense)
	}
	if !slices.Contains(members, e.PaidBy) {
		return fmt.Errorf("%w: payer %q is not a member", ErrInvalidExpense, e.PaidBy)
	}
	total := 0.0
	for m, v := range e.Splits {
		if !slices.Contains(members, m) {
			return fmt.Errorf("%w: split for %q, who is not a member", ErrInvalidExpense, m)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s has %v", ErrNegativeShare, m, v)
		}
		total += v
	}
	if math.Abs(total-e.Amount) >= splitEpsilon {
		return fmt.Errorf("%w: total %.2f, amount %.2f", ErrSplitMismatch, total, e.Amount)
	}
	return nil
}

// ExpenseInput is what a client submits to create or edit an expense.
type ExpenseInput struct {
	Description string             `json:"description"`
	Amount      float64            `json:"amount"`
	PaidBy      string             `json:"paidBy"`
	Policy      SplitPolicy        `json:"policy"`
	Selection   []string           `json:"selection,omitempty"`
	Shares      map[string]float64 `json:"shares,omitempty"`
}

// Build resolves the splits for the input and returns a validated expense without
// id or timestamp.
func (in ExpenseInput) Build(members []string) (Expense, error) {
	policy := in.Policy
	if policy == "" {
		policy = SplitEqual
	}
	e := Expense{
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		PaidBy:      in.PaidBy,
	}
	if e.Description == "" || e.PaidBy == "" || e.Amount <= 0 {
		return Expense{}, e.Validate(members)
	}
	splits, err := ComputeSplits(in.Amount, policy, members, in.Selection, in.Shares)
	if err != nil {
		return Expense{}, err
	}
	e.Splits = splits
	if err := e.Validate(members); err != nil {
		return Expense{}, err
	}
	return e, nil
}

// EditForm reconstructs an input from a stored expense so it can be edited.
func EditForm(e Expense, members []string) ExpenseInput {
	policy := InferPolicy(e.Splits)
	in := ExpenseInput{
		Description: e.Description,
		Amount:      e.Amount,
		PaidBy:      e.PaidBy,
		Policy:      policy,
	}
	if policy == SplitEqual {
		in.Selection = SelectedMembers(members, e.Splits)
		return in
	}
	in.Shares = make(map[string]float64, len(e.Splits))
	for m, v := range e.Splits {
		in.Shares[m] = v
	}
	return in
}
