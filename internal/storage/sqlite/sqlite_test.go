package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
	"splitledger/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGroup(t *testing.T, s *Store, memberNames ...string) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	var memberIDs []int64
	for _, name := range memberNames {
		id, err := s.CreateUser(ctx, name, name+"@example.com")
		if err != nil {
			t.Fatalf("CreateUser(%s) error = %v", name, err)
		}
		memberIDs = append(memberIDs, id)
	}
	groupID, err := s.CreateGroup(ctx, "trip", "weekend trip", memberIDs)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	return groupID, memberIDs
}

func TestGetGroupPreservesMemberOrder(t *testing.T) {
	s := newTestStore(t)
	groupID, memberIDs := seedGroup(t, s, "alice", "bob", "carol")

	g, err := s.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if len(g.MemberIDs) != 3 {
		t.Fatalf("member count = %d, want 3", len(g.MemberIDs))
	}
	for i, id := range memberIDs {
		if g.MemberIDs[i] != id {
			t.Errorf("member[%d] = %d, want %d", i, g.MemberIDs[i], id)
		}
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetGroup(ctx, 99); !errors.Is(err, core.ErrGroupNotFound) {
		t.Errorf("GetGroup: got %v, want ErrGroupNotFound", err)
	}
	if _, err := s.GetUser(ctx, 99); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("GetUser: got %v, want ErrUserNotFound", err)
	}
	if _, err := s.GetExpense(ctx, 99); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Errorf("GetExpense: got %v, want ErrExpenseNotFound", err)
	}
}

func TestExpenseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, members := seedGroup(t, s, "alice", "bob")

	var expenseID int64
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		e := &core.Expense{
			GroupID:      groupID,
			PaidByUserID: members[0],
			Description:  "Dinner",
			Amount:       30,
			Method:       core.SplitEqual,
		}
		id, err := tx.InsertExpense(ctx, e)
		if err != nil {
			return err
		}
		expenseID = id
		pct := 50.0
		for _, userID := range members {
			if err := tx.InsertSplit(ctx, core.ExpenseSplit{
				ExpenseID:  id,
				UserID:     userID,
				Amount:     15,
				Percentage: &pct,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	e, err := s.GetExpense(ctx, expenseID)
	if err != nil {
		t.Fatalf("GetExpense() error = %v", err)
	}
	if e.Description != "Dinner" || e.Amount != 30 || e.Method != core.SplitEqual {
		t.Errorf("expense = %+v", e)
	}

	splits, err := s.GetExpenseSplits(ctx, expenseID)
	if err != nil {
		t.Fatalf("GetExpenseSplits() error = %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("split count = %d, want 2", len(splits))
	}
	if splits[0].Percentage == nil || *splits[0].Percentage != 50 {
		t.Errorf("percentage not persisted: %+v", splits[0])
	}

	listed, err := s.ListGroupExpenses(ctx, groupID)
	if err != nil {
		t.Fatalf("ListGroupExpenses() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != expenseID {
		t.Errorf("listed = %+v", listed)
	}
}

func TestDeleteExpenseCascadesSplits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, members := seedGroup(t, s, "alice", "bob")

	var expenseID int64
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		id, err := tx.InsertExpense(ctx, &core.Expense{
			GroupID: groupID, PaidByUserID: members[0],
			Description: "Taxi", Amount: 20, Method: core.SplitEqual,
		})
		if err != nil {
			return err
		}
		expenseID = id
		return tx.InsertSplit(ctx, core.ExpenseSplit{ExpenseID: id, UserID: members[1], Amount: 10})
	})
	if err != nil {
		t.Fatalf("seed expense: %v", err)
	}

	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteExpense(ctx, expenseID)
	})
	if err != nil {
		t.Fatalf("delete expense: %v", err)
	}

	splits, err := s.GetExpenseSplits(ctx, expenseID)
	if err != nil {
		t.Fatalf("GetExpenseSplits() error = %v", err)
	}
	if len(splits) != 0 {
		t.Errorf("splits survived deletion: %+v", splits)
	}
}

func TestEdgeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, m := seedGroup(t, s, "alice", "bob")

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertEdge(ctx, core.BalanceEdge{
			GroupID: groupID, DebtorID: m[0], CreditorID: m[1], Amount: 12.50,
		})
	})
	if err != nil {
		t.Fatalf("insert edge: %v", err)
	}

	// Upsert on the same key overwrites the amount.
	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertEdge(ctx, core.BalanceEdge{
			GroupID: groupID, DebtorID: m[0], CreditorID: m[1], Amount: 20,
		})
	})
	if err != nil {
		t.Fatalf("update edge: %v", err)
	}

	edges, err := s.GroupBalances(ctx, groupID)
	if err != nil {
		t.Fatalf("GroupBalances() error = %v", err)
	}
	if len(edges) != 1 || edges[0].Amount != 20 {
		t.Fatalf("edges = %+v, want one edge of 20.00", edges)
	}

	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		ab, ba, err := tx.PairEdges(ctx, groupID, m[0], m[1])
		if err != nil {
			return err
		}
		if ab == nil || ab.Amount != 20 {
			t.Errorf("ab = %+v, want amount 20", ab)
		}
		if ba != nil {
			t.Errorf("ba = %+v, want nil", ba)
		}
		return tx.DeleteEdge(ctx, groupID, m[0], m[1])
	})
	if err != nil {
		t.Fatalf("pair and delete: %v", err)
	}

	edges, err = s.GroupBalances(ctx, groupID)
	if err != nil {
		t.Fatalf("GroupBalances() error = %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("edges after delete = %+v", edges)
	}
}

func TestDeleteMissingEdgeIsInconsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, m := seedGroup(t, s, "alice", "bob")

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteEdge(ctx, groupID, m[0], m[1])
	})
	if !errors.Is(err, core.ErrLedgerInconsistent) {
		t.Errorf("got %v, want ErrLedgerInconsistent", err)
	}
}

func TestUserSummaryAcrossGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g1, m := seedGroup(t, s, "alice", "bob", "carol")
	g2, err := s.CreateGroup(ctx, "flat", "", m)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		if err := ledger.ApplyDelta(ctx, tx, g1, m[1], m[0], 30); err != nil {
			return err
		}
		if err := ledger.ApplyDelta(ctx, tx, g2, m[0], m[2], 12.50); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("apply deltas: %v", err)
	}

	sum, err := s.UserSummary(ctx, m[0])
	if err != nil {
		t.Fatalf("UserSummary() error = %v", err)
	}
	if sum.TotalOwed != 30 || sum.TotalOwing != 12.50 || sum.Net != 17.50 {
		t.Errorf("summary = %+v, want owed 30, owing 12.50, net 17.50", sum)
	}

	// A user with no edges nets to zero.
	empty, err := s.UserSummary(ctx, m[1]+1000)
	if err != nil {
		t.Fatalf("UserSummary() error = %v", err)
	}
	if empty.TotalOwed != 0 || empty.TotalOwing != 0 || empty.Net != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestExportBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, m := seedGroup(t, s, "alice", "bob")

	var first, second int64
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		first, err = tx.InsertExpense(ctx, &core.Expense{
			GroupID: groupID, PaidByUserID: m[0], Description: "One", Amount: 10, Method: core.SplitEqual,
		})
		if err != nil {
			return err
		}
		second, err = tx.InsertExpense(ctx, &core.Expense{
			GroupID: groupID, PaidByUserID: m[0], Description: "Two", Amount: 20, Method: core.SplitEqual,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed expenses: %v", err)
	}

	pending, err := s.PendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("PendingExports() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if err := s.MarkExported(ctx, first); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := s.MarkExportFailed(ctx, second); err != nil {
		t.Fatalf("MarkExportFailed() error = %v", err)
	}

	pending, err = s.PendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("PendingExports() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after marks = %+v", pending)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	groupID, m := seedGroup(t, s, "alice", "bob")

	sentinel := errors.New("boom")
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.InsertExpense(ctx, &core.Expense{
			GroupID: groupID, PaidByUserID: m[0], Description: "Ghost", Amount: 10, Method: core.SplitEqual,
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel", err)
	}

	expenses, err := s.ListGroupExpenses(ctx, groupID)
	if err != nil {
		t.Fatalf("ListGroupExpenses() error = %v", err)
	}
	if len(expenses) != 0 {
		t.Errorf("rolled-back expense persisted: %+v", expenses)
	}
}
