package ledger

import "errors"

var (
	ErrInvalidExpense = errors.New("ledger: invalid expense")
	ErrEmptySelection = errors.New("ledger: equal split needs at least one selected member")
	ErrNegativeShare  = errors.New("ledger: share must not be negative")
	ErrSplitMismatch  = errors.New("ledger: shares do not add up to the amount")
	ErrUnknownPolicy  = errors.New("ledger: unknown split policy")
	ErrInvalidAmount  = errors.New("ledger: invalid amount")
)
