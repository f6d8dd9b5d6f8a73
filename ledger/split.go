package ledger

import (
	"fmt"
	"math"
	"slices"
)

// ComputeSplits resolves the owed share of every member for one expense.
//
// With SplitEqual each selected member owes amount/|selection| and everybody else 0.
// With SplitUnequal each member owes manual[m] (0 when missing) and the shares must
// add up to amount within 0.001.
func ComputeSplits(amount float64, policy SplitPolicy, members, selection []string, manual map[string]float64) (map[string]float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	splits := make(map[string]float64, len(members))
	switch policy {
	case SplitEqual:
		selected := dedupe(selection)
		if len(selected) == 0 {
			return nil, ErrEmptySelection
		}
		for _, m := range selected {
			if !slices.Contains(members, m) {
				return nil, fmt.Errorf("%w: %q is not a member", ErrInvalidExpense, m)
			}
		}
		share := amount / float64(len(selected))
		for _, m := range members {
			splits[m] = 0
		}
		for _, m := range selected {
			splits[m] = share
		}
	case SplitUnequal:
		for m, v := range manual {
			if v != 0 && !slices.Contains(members, m) {
				return nil, fmt.Errorf("%w: %q is not a member", ErrInvalidExpense, m)
			}
		}
		total := 0.0
		for _, m := range members {
			v := manual[m]
			if v < 0 || math.IsNaN(v) {
				return nil, fmt.Errorf("%w: %s has %v", ErrNegativeShare, m, v)
			}
			splits[m] = v
			total += v
		}
		if math.Abs(total-amount) >= splitEpsilon {
			return nil, fmt.Errorf("%w: total %.2f, amount %.2f", ErrSplitMismatch, total, amount)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return splits, nil
}

// InferPolicy guesses the policy an existing split was created with: equal when
// every positive share is the same, unequal otherwise.
func InferPolicy(splits map[string]float64) SplitPolicy {
	first := -1.0
	for _, v := range splits {
		if v <= 0 {
			continue
		}
		if first < 0 {
			first = v
			continue
		}
		if math.Abs(v-first) >= splitEpsilon {
			return SplitUnequal
		}
	}
	return SplitEqual
}

// SelectedMembers lists, in member order, the members holding a positive share.
func SelectedMembers(members []string, splits map[string]float64) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if splits[m] > 0 {
			out = append(out, m)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
