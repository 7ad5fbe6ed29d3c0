// Package sqlite is the default persistence backend, a single-file
// database suitable for one-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"splitledger/internal/core"
	"splitledger/internal/storage"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore opens (creating if needed) the database at dbPath and runs
// migrations. Writes are serialized on a single connection, which is
// how the ledger invariants stay safe under concurrent requests.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTx runs fn inside an immediate transaction. fn returning an
// error rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(&sqlTx{tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, name, email string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email) VALUES (?, ?)`, name, email)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, core.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateGroup(ctx context.Context, name, description string, memberIDs []int64) (int64, error) {
	var groupID int64
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		st := tx.(*sqlTx)
		res, err := st.tx.ExecContext(ctx,
			`INSERT INTO groups (name, description) VALUES (?, ?)`, name, description)
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		groupID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for pos, userID := range memberIDs {
			if _, err := st.tx.ExecContext(ctx,
				`INSERT INTO group_members (group_id, user_id, position) VALUES (?, ?, ?)`,
				groupID, userID, pos); err != nil {
				return fmt.Errorf("add member %d: %w", userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "group created", "group_id", groupID, "members", len(memberIDs))
	return groupID, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID int64) (*core.Group, error) {
	var g core.Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE id = ?`, groupID).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, core.ErrGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		g.MemberIDs = append(g.MemberIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return &g, nil
}

func (s *Store) GetExpense(ctx context.Context, expenseID int64) (*core.Expense, error) {
	var e core.Expense
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE id = ?`, expenseID).
		Scan(&e.ID, &e.GroupID, &e.PaidByUserID, &e.Description, &e.Amount, &e.Method, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", expenseID, core.ErrExpenseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	return &e, nil
}

func (s *Store) ListGroupExpenses(ctx context.Context, groupID int64) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE group_id = ? ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group expenses: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func (s *Store) GetExpenseSplits(ctx context.Context, expenseID int64) ([]core.ExpenseSplit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT expense_id, user_id, amount, percentage
		 FROM expense_splits WHERE expense_id = ? ORDER BY user_id`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("get expense splits: %w", err)
	}
	defer rows.Close()

	var splits []core.ExpenseSplit
	for rows.Next() {
		var sp core.ExpenseSplit
		var pct sql.NullFloat64
		if err := rows.Scan(&sp.ExpenseID, &sp.UserID, &sp.Amount, &pct); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if pct.Valid {
			v := pct.Float64
			sp.Percentage = &v
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

func (s *Store) GroupBalances(ctx context.Context, groupID int64) ([]core.BalanceEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, debtor_id, creditor_id, amount
		 FROM balances WHERE group_id = ? ORDER BY debtor_id, creditor_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group balances: %w", err)
	}
	defer rows.Close()

	var edges []core.BalanceEdge
	for rows.Next() {
		var e core.BalanceEdge
		if err := rows.Scan(&e.GroupID, &e.DebtorID, &e.CreditorID, &e.Amount); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) UserSummary(ctx context.Context, userID int64) (core.NetSummary, error) {
	summary := core.NetSummary{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE((SELECT SUM(amount) FROM balances WHERE creditor_id = ?), 0),
		   COALESCE((SELECT SUM(amount) FROM balances WHERE debtor_id = ?), 0)`,
		userID, userID).
		Scan(&summary.TotalOwed, &summary.TotalOwing)
	if err != nil {
		return summary, fmt.Errorf("user summary: %w", err)
	}
	summary.TotalOwed = core.Round2(summary.TotalOwed)
	summary.TotalOwing = core.Round2(summary.TotalOwing)
	summary.Net = core.Round2(summary.TotalOwed - summary.TotalOwing)
	return summary, nil
}

func (s *Store) PendingExports(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE export_state = 'pending' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending exports: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func (s *Store) MarkExported(ctx context.Context, expenseID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET export_state = 'done' WHERE id = ?`, expenseID); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "expense marked as exported", "expense_id", expenseID)
	return nil
}

func (s *Store) MarkExportFailed(ctx context.Context, expenseID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET export_state = 'error', export_attempts = export_attempts + 1
		 WHERE id = ?`, expenseID); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	slog.WarnContext(ctx, "expense marked with export error", "expense_id", expenseID)
	return nil
}

func scanExpenses(rows *sql.Rows) ([]core.Expense, error) {
	var expenses []core.Expense
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PaidByUserID, &e.Description, &e.Amount, &e.Method, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}
