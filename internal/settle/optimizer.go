// Package settle turns a group's balance edges into a short list of
// repayment transfers.
package settle

import (
	"fmt"
	"sort"

	"splitledger/internal/core"
)

type position struct {
	userID int64
	amount float64
}

// Optimize computes a minimal-ish set of transfers that settles every
// net position in the given edges. It greedily matches the largest
// creditor with the largest debtor; ties are broken by user ID so the
// plan is deterministic for the same ledger state. names is optional
// and only feeds the human-readable descriptions.
//
// The transfers it returns always sum, per user, to that user's net
// position, and their count never exceeds participants minus one.
func Optimize(edges []core.BalanceEdge, names map[int64]string) []core.SettlementSuggestion {
	net := make(map[int64]float64)
	for _, e := range edges {
		net[e.DebtorID] = core.Round2(net[e.DebtorID] - e.Amount)
		net[e.CreditorID] = core.Round2(net[e.CreditorID] + e.Amount)
	}

	var creditors, debtors []position
	for id, amt := range net {
		switch {
		case amt > core.Epsilon:
			creditors = append(creditors, position{userID: id, amount: amt})
		case amt < -core.Epsilon:
			debtors = append(debtors, position{userID: id, amount: -amt})
		}
	}
	sortPositions(creditors)
	sortPositions(debtors)

	var suggestions []core.SettlementSuggestion
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		c, d := &creditors[i], &debtors[j]
		amt := core.Round2(minf(c.amount, d.amount))
		if amt > core.Epsilon {
			suggestions = append(suggestions, core.SettlementSuggestion{
				FromUserID:  d.userID,
				ToUserID:    c.userID,
				Amount:      amt,
				Description: fmt.Sprintf("%s pays %s %.2f", nameOf(names, d.userID), nameOf(names, c.userID), amt),
			})
		}
		c.amount = core.Round2(c.amount - amt)
		d.amount = core.Round2(d.amount - amt)
		if c.amount <= core.Epsilon {
			i++
		}
		if d.amount <= core.Epsilon {
			j++
		}
	}
	return suggestions
}

func sortPositions(ps []position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].amount != ps[j].amount {
			return ps[i].amount > ps[j].amount
		}
		return ps[i].userID < ps[j].userID
	})
}

func nameOf(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("user %d", id)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
