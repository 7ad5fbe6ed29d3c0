// Package ledger maintains the netted pairwise balance edges of a
// group. Each unordered pair of members carries at most one directed
// edge, and every mutation keeps it that way.
package ledger

import (
	"context"
	"fmt"

	"splitledger/internal/core"
	"splitledger/internal/storage"
)

// ApplyDelta records that debtor owes creditor an additional amount,
// netting against whatever edge already exists between the pair. A
// negative amount reverses the roles, which is how deleted expenses
// are replayed. Amounts at or below the cent threshold never produce
// an edge.
//
// The caller supplies the transaction; ApplyDelta never commits.
func ApplyDelta(ctx context.Context, tx storage.Tx, groupID, debtorID, creditorID int64, amount float64) error {
	if debtorID == creditorID {
		return fmt.Errorf("%w: self edge for user %d in group %d", core.ErrLedgerInconsistent, debtorID, groupID)
	}
	if amount < 0 {
		debtorID, creditorID = creditorID, debtorID
		amount = -amount
	}
	amount = core.Round2(amount)
	if amount <= core.Epsilon {
		return nil
	}

	same, opposite, err := tx.PairEdges(ctx, groupID, debtorID, creditorID)
	if err != nil {
		return fmt.Errorf("load pair edges: %w", err)
	}
	if same != nil && opposite != nil {
		return fmt.Errorf("%w: both directions present for users %d and %d in group %d",
			core.ErrLedgerInconsistent, debtorID, creditorID, groupID)
	}

	switch {
	case same != nil:
		same.Amount = core.Round2(same.Amount + amount)
		return tx.UpsertEdge(ctx, *same)

	case opposite != nil:
		net := core.Round2(opposite.Amount - amount)
		switch {
		case net > core.Epsilon:
			opposite.Amount = net
			return tx.UpsertEdge(ctx, *opposite)
		case net < -core.Epsilon:
			// Debt direction flips.
			if err := tx.DeleteEdge(ctx, groupID, opposite.DebtorID, opposite.CreditorID); err != nil {
				return err
			}
			return tx.UpsertEdge(ctx, core.BalanceEdge{
				GroupID:    groupID,
				DebtorID:   debtorID,
				CreditorID: creditorID,
				Amount:     core.Round2(-net),
			})
		default:
			// Settled to within a cent.
			return tx.DeleteEdge(ctx, groupID, opposite.DebtorID, opposite.CreditorID)
		}

	default:
		return tx.UpsertEdge(ctx, core.BalanceEdge{
			GroupID:    groupID,
			DebtorID:   debtorID,
			CreditorID: creditorID,
			Amount:     amount,
		})
	}
}

// ApplyExpense walks the resolved splits of an expense and applies one
// delta per participant other than the payer. Splits at or below the
// cent threshold are skipped. sign is +1 when recording an expense and
// -1 when replaying a deletion.
func ApplyExpense(ctx context.Context, tx storage.Tx, groupID, payerID int64, splits []core.ExpenseSplit, sign float64) error {
	for _, s := range splits {
		if s.UserID == payerID || s.Amount <= core.Epsilon {
			continue
		}
		if err := ApplyDelta(ctx, tx, groupID, s.UserID, payerID, sign*s.Amount); err != nil {
			return err
		}
	}
	return nil
}
