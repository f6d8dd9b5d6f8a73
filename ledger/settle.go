package ledger

import (
	"math"
	"sort"
)

// InOrder keeps debtors and creditors in member insertion order.
func InOrder(_, _ []Balance) {}

// ByMagnitude sorts both queues by amount descending, then by member name for
// a stable, canonical result.
func ByMagnitude(debtors, creditors []Balance) {
	byAmount := func(q []Balance) {
		sort.SliceStable(q, func(i, j int) bool {
			if q[i].Amount == q[j].Amount {
				return q[i].Member < q[j].Member
			}
			return q[i].Amount > q[j].Amount
		})
	}
	byAmount(debtors)
	byAmount(creditors)
}

// StrategyByName maps a configuration value to a settlement strategy.
func StrategyByName(name string) (SettleStrategy, bool) {
	switch name {
	case "", "in_order":
		return InOrder, true
	case "by_magnitude":
		return ByMagnitude, true
	}
	return nil, false
}

// ComputeSettlements is SettleWith using InOrder.
func ComputeSettlements(balances Balances) []Settlement {
	return SettleWith(balances, InOrder)
}

// SettleWith produces transfer instructions that zero every balance using a greedy
// two-pointer walk over debtors and creditors. It does not minimise the number of
// transfers; it yields at most |debtors|+|creditors|-1 of them.
func SettleWith(balances Balances, strategy SettleStrategy) []Settlement {
	if strategy == nil {
		strategy = InOrder
	}

	var debtors, creditors []Balance
	for _, b := range balances {
		if b.Amount < -classifyEpsilon {
			debtors = append(debtors, Balance{Member: b.Member, Amount: -b.Amount})
		}
		if b.Amount > classifyEpsilon {
			creditors = append(creditors, Balance{Member: b.Member, Amount: b.Amount})
		}
	}
	strategy(debtors, creditors)

	out := []Settlement{}
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		pay := math.Min(debtors[i].Amount, creditors[j].Amount)
		out = append(out, Settlement{From: debtors[i].Member, To: creditors[j].Member, Amount: pay})
		debtors[i].Amount -= pay
		creditors[j].Amount -= pay
		if math.Abs(debtors[i].Amount) < settleEpsilon {
			i++
		}
		if math.Abs(creditors[j].Amount) < settleEpsilon {
			j++
		}
	}
	return out
}

// Apply replays settlements on a copy of the balances. Every entry of the result
// should be within 0.01 of zero.
func Apply(balances Balances, settlements []Settlement) Balances {
	out := make(Balances, len(balances))
	copy(out, balances)
	idx := make(map[string]int, len(out))
	for i, b := range out {
		idx[b.Member] = i
	}
	for _, s := range settlements {
		if i, ok := idx[s.From]; ok {
			out[i].Amount += s.Amount
		}
		if i, ok := idx[s.To]; ok {
			out[i].Amount -= s.Amount
		}
	}
	return out
}
