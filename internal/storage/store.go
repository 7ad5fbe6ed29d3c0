// Package storage defines the persistence contract the rest of the
// application is written against. Concrete implementations live in the
// sqlite and postgres subpackages.
package storage

import (
	"context"

	"splitledger/internal/core"
)

// Tx is the mutating surface available inside a transaction. Expense
// writes and the balance-edge updates they imply always happen through
// one Tx so they commit or roll back together.
type Tx interface {
	InsertExpense(ctx context.Context, e *core.Expense) (int64, error)
	InsertSplit(ctx context.Context, s core.ExpenseSplit) error
	// DeleteExpense removes the expense row and its splits.
	DeleteExpense(ctx context.Context, expenseID int64) error

	// PairEdges returns both possible directed edges between two users
	// in a group: ab with a as debtor, ba with b as debtor. Either may
	// be nil. Implementations that support row locks hold them until
	// the transaction ends.
	PairEdges(ctx context.Context, groupID, userA, userB int64) (ab, ba *core.BalanceEdge, err error)
	UpsertEdge(ctx context.Context, edge core.BalanceEdge) error
	DeleteEdge(ctx context.Context, groupID, debtorID, creditorID int64) error
}

// Store is the full persistence surface.
type Store interface {
	// WithinTx runs fn inside a transaction, committing when fn
	// returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, name, email string) (int64, error)
	GetUser(ctx context.Context, userID int64) (*core.User, error)
	CreateGroup(ctx context.Context, name, description string, memberIDs []int64) (int64, error)
	GetGroup(ctx context.Context, groupID int64) (*core.Group, error)

	GetExpense(ctx context.Context, expenseID int64) (*core.Expense, error)
	ListGroupExpenses(ctx context.Context, groupID int64) ([]core.Expense, error)
	GetExpenseSplits(ctx context.Context, expenseID int64) ([]core.ExpenseSplit, error)

	// GroupBalances returns every live edge of a group.
	GroupBalances(ctx context.Context, groupID int64) ([]core.BalanceEdge, error)
	// UserSummary aggregates a user's edges across all groups.
	UserSummary(ctx context.Context, userID int64) (core.NetSummary, error)

	// Export bookkeeping for the spreadsheet sync worker.
	PendingExports(ctx context.Context, limit int) ([]core.Expense, error)
	MarkExported(ctx context.Context, expenseID int64) error
	MarkExportFailed(ctx context.Context, expenseID int64) error

	Ping(ctx context.Context) error
	Close() error
}
