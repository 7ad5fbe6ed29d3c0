package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"splitledger/internal/core"
	"splitledger/internal/storage"
)

// sqlTx implements storage.Tx on top of a database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*sqlTx)(nil)

func (t *sqlTx) InsertExpense(ctx context.Context, e *core.Expense) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO expenses (group_id, paid_by_user_id, description, amount, split_method)
		 VALUES (?, ?, ?, ?, ?)`,
		e.GroupID, e.PaidByUserID, e.Description, e.Amount, string(e.Method))
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (t *sqlTx) InsertSplit(ctx context.Context, s core.ExpenseSplit) error {
	var pct sql.NullFloat64
	if s.Percentage != nil {
		pct = sql.NullFloat64{Float64: *s.Percentage, Valid: true}
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO expense_splits (expense_id, user_id, amount, percentage)
		 VALUES (?, ?, ?, ?)`,
		s.ExpenseID, s.UserID, s.Amount, pct); err != nil {
		return fmt.Errorf("insert split: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteExpense(ctx context.Context, expenseID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, expenseID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("expense %d: %w", expenseID, core.ErrExpenseNotFound)
	}
	return nil
}

func (t *sqlTx) PairEdges(ctx context.Context, groupID, userA, userB int64) (*core.BalanceEdge, *core.BalanceEdge, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT group_id, debtor_id, creditor_id, amount FROM balances
		 WHERE group_id = ?
		   AND ((debtor_id = ? AND creditor_id = ?) OR (debtor_id = ? AND creditor_id = ?))`,
		groupID, userA, userB, userB, userA)
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

func (t *sqlTx) UpsertEdge(ctx context.Context, edge core.BalanceEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO balances (group_id, debtor_id, creditor_id, amount)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id, debtor_id, creditor_id)
		 DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`,
		edge.GroupID, edge.DebtorID, edge.CreditorID, edge.Amount); err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteEdge(ctx context.Context, groupID, debtorID, creditorID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM balances WHERE group_id = ? AND debtor_id = ? AND creditor_id = ?`,
		groupID, debtorID, creditorID)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: edge %d->%d in group %d vanished mid-transaction",
			core.ErrLedgerInconsistent, debtorID, creditorID, groupID)
	}
	return nil
}
