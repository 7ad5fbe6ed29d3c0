// Package postgres is the persistence backend for multi-process
// deployments. Pair edges are locked with SELECT ... FOR UPDATE so
// concurrent expense writes against the same pair serialize.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"splitledger/internal/core"
	"splitledger/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore connects to the database at dsn and ensures the schema
// exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			position INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id BIGSERIAL PRIMARY KEY,
			group_id BIGINT NOT NULL REFERENCES groups(id),
			paid_by_user_id BIGINT NOT NULL REFERENCES users(id),
			description TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			split_method TEXT NOT NULL,
			export_state TEXT NOT NULL DEFAULT 'pending',
			export_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS expense_splits (
			expense_id BIGINT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			amount DOUBLE PRECISION NOT NULL,
			percentage DOUBLE PRECISION,
			PRIMARY KEY (expense_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			group_id BIGINT NOT NULL REFERENCES groups(id),
			debtor_id BIGINT NOT NULL REFERENCES users(id),
			creditor_id BIGINT NOT NULL REFERENCES users(id),
			amount DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, debtor_id, creditor_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_group ON expenses(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_export ON expenses(export_state)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_debtor ON balances(debtor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_creditor ON balances(creditor_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	dbTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, name, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`, name, email).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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
		pt := tx.(*pgTx)
		if err := pt.tx.QueryRow(ctx,
			`INSERT INTO groups (name, description) VALUES ($1, $2) RETURNING id`,
			name, description).Scan(&groupID); err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		for pos, userID := range memberIDs {
			if _, err := pt.tx.Exec(ctx,
				`INSERT INTO group_members (group_id, user_id, position) VALUES ($1, $2, $3)`,
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
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE id = $1`, groupID).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, core.ErrGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY position`, groupID)
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
	err := s.pool.QueryRow(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE id = $1`, expenseID).
		Scan(&e.ID, &e.GroupID, &e.PaidByUserID, &e.Description, &e.Amount, &e.Method, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", expenseID, core.ErrExpenseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	return &e, nil
}

func (s *Store) ListGroupExpenses(ctx context.Context, groupID int64) ([]core.Expense, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE group_id = $1 ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group expenses: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func (s *Store) GetExpenseSplits(ctx context.Context, expenseID int64) ([]core.ExpenseSplit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT expense_id, user_id, amount, percentage
		 FROM expense_splits WHERE expense_id = $1 ORDER BY user_id`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("get expense splits: %w", err)
	}
	defer rows.Close()

	var splits []core.ExpenseSplit
	for rows.Next() {
		var sp core.ExpenseSplit
		if err := rows.Scan(&sp.ExpenseID, &sp.UserID, &sp.Amount, &sp.Percentage); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

func (s *Store) GroupBalances(ctx context.Context, groupID int64) ([]core.BalanceEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_id, debtor_id, creditor_id, amount
		 FROM balances WHERE group_id = $1 ORDER BY debtor_id, creditor_id`, groupID)
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
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT SUM(amount) FROM balances WHERE creditor_id = $1), 0),
		   COALESCE((SELECT SUM(amount) FROM balances WHERE debtor_id = $1), 0)`, userID).
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, group_id, paid_by_user_id, description, amount, split_method, created_at
		 FROM expenses WHERE export_state = 'pending' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending exports: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func (s *Store) MarkExported(ctx context.Context, expenseID int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE expenses SET export_state = 'done' WHERE id = $1`, expenseID); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

func (s *Store) MarkExportFailed(ctx context.Context, expenseID int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE expenses SET export_state = 'error', export_attempts = export_attempts + 1
		 WHERE id = $1`, expenseID); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}

func scanExpenses(rows pgx.Rows) ([]core.Expense, error) {
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
