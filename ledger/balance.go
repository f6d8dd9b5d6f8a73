package ledger

// ComputeBalances folds every expense into a net balance per member, in member order.
// The payer gains amount minus their own share, every other member loses their share.
func ComputeBalances(members []string, expenses []Expense) Balances {
	out := make(Balances, 0, len(members))
	for _, m := range members {
		b := 0.0
		for _, e := range expenses {
			share := e.Splits[m]
			if e.PaidBy == m {
				b += e.Amount - share
			} else {
				b -= share
			}
		}
		out = append(out, Balance{Member: m, Amount: b})
	}
	return out
}

// TotalSpent is the sum of all expense amounts.
func TotalSpent(expenses []Expense) float64 {
	total := 0.0
	for _, e := range expenses {
		total += e.Amount
	}
	return total
}
