package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"splitledger/internal/core"
	"splitledger/internal/storage"
)

type pgTx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) InsertExpense(ctx context.Context, e *core.Expense) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO expenses (group_id, paid_by_user_id, description, amount, split_method)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.GroupID, e.PaidByUserID, e.Description, e.Amount, string(e.Method)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	e.ID = id
	return id, nil
}

func (t *pgTx) InsertSplit(ctx context.Context, s core.ExpenseSplit) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO expense_splits (expense_id, user_id, amount, percentage)
		 VALUES ($1, $2, $3, $4)`,
		s.ExpenseID, s.UserID, s.Amount, s.Percentage); err != nil {
		return fmt.Errorf("insert split: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteExpense(ctx context.Context, expenseID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, expenseID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %d: %w", expenseID, core.ErrExpenseNotFound)
	}
	return nil
}

// PairEdges locks both directions of the pair for the remainder of the
// transaction, so concurrent writers against the same pair serialize.
func (t *pgTx) PairEdges(ctx context.Context, groupID, userA, userB int64) (*core.BalanceEdge, *core.BalanceEdge, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT group_id, debtor_id, creditor_id, amount FROM balances
		 WHERE group_id = $1
		   AND ((debtor_id = $2 AND creditor_id = $3) OR (debtor_id = $3 AND creditor_id = $2))
		 FOR UPDATE`,
		groupID, userA, userB)
	if err != nil {
		return nil, nil, fmt.Errorf("pair edges: %w", err)
	}
	defer rows.Close()

	var ab, ba *core.BalanceEdge
	for rows.Next() {
		var e core.BalanceEdge
		if err := rows.Scan(&e.GroupID, &e.DebtorID, &e.CreditorID, &e.Amount); err != nil {
			return nil, nil, fmt.Errorf("scan edge: %w", err)
		}
		cp := e
		if e.DebtorID == userA {
			ab = &cp
		} else {
			ba = &cp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return ab, ba, nil
}

func (t *pgTx) UpsertEdge(ctx context.Context, edge core.BalanceEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO balances (group_id, debtor_id, creditor_id, amount)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_id, debtor_id, creditor_id)
		 DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
		edge.GroupID, edge.DebtorID, edge.CreditorID, edge.Amount); err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteEdge(ctx context.Context, groupID, debtorID, creditorID int64) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM balances WHERE group_id = $1 AND debtor_id = $2 AND creditor_id = $3`,
		groupID, debtorID, creditorID)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: edge %d->%d in group %d vanished mid-transaction",
			core.ErrLedgerInconsistent, debtorID, creditorID, groupID)
	}
	return nil
}
