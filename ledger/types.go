package ledger

import (
	"time"
)

const (
	// splitEpsilon is the tolerance between the sum of unequal shares and the expense amount.
	splitEpsilon = 0.001
	// classifyEpsilon separates debtors and creditors from members that are already even.
	classifyEpsilon = 0.005
	// settleEpsilon is the remainder under which a debtor or creditor counts as settled.
	settleEpsilon = 0.01
)

// SplitPolicy decides how an expense amount is spread across members.
type SplitPolicy string

const (
	SplitEqual   SplitPolicy = "equal"
	SplitUnequal SplitPolicy = "unequal"
)

// Expense is one shared payment made by a single member on behalf of others.
type Expense struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Amount      float64            `json:"amount"`
	PaidBy      string             `json:"paidBy"`
	Splits      map[string]float64 `json:"splits"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (e Expense) Clone() Expense {
	out := e
	out.Splits = make(map[string]float64, len(e.Splits))
	for m, v := range e.Splits {
		out.Splits[m] = v
	}
	return out
}

// Balance is a member's net position: positive means the group owes them.
type Balance struct {
	Member string  `json:"member"`
	Amount float64 `json:"amount"`
}

// Balances keeps member insertion order, which the settlement walk depends on.
type Balances []Balance

// Map indexes the balances by member.
func (b Balances) Map() map[string]float64 {
	out := make(map[string]float64, len(b))
	for _, e := range b {
		out[e.Member] = e.Amount
	}
	return out
}

// Sum adds up every balance. It should be close to zero.
func (b Balances) Sum() float64 {
	total := 0.0
	for _, e := range b {
		total += e.Amount
	}
	return total
}

// Settlement is a transfer instruction from a debtor to a creditor.
type Settlement struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

func (s Settlement) String() string {
	return s.From + " → " + s.To + " ₹" + FormatAmount(s.Amount)
}

// SettleStrategy orders debtor and creditor queues before the greedy walk.
type SettleStrategy func(debtors, creditors []Balance)
