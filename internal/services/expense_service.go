// Package services orchestrates the domain packages: split math, ledger
// updates, persistence, caching and event publishing.
package services

import (
	"context"
	"fmt"
	"time"

	"splitledger/internal/cache"
	"splitledger/internal/core"
	"splitledger/internal/events"
	"splitledger/internal/ledger"
	"splitledger/internal/log"
	"splitledger/internal/metrics"
	"splitledger/internal/split"
	"splitledger/internal/storage"
)

// EventPublisher is the slice of the AMQP client the service needs.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, event *events.ExpenseEvent) error
}

// ExpenseService records and deletes expenses. Every write updates the
// balance ledger in the same transaction, so the ledger never drifts
// from the expense history.
type ExpenseService struct {
	store     storage.Store
	cache     cache.Cache
	publisher EventPublisher
	logger    *log.Logger
}

// CreateExpenseRequest carries everything needed to record an expense.
// Splits is required for percentage and exact methods and ignored for
// equal splits.
type CreateExpenseRequest struct {
	GroupID      int64
	PaidByUserID int64
	Description  string
	Amount       float64
	Method       core.SplitMethod
	Splits       []core.SplitSpec
}

func NewExpenseService(store storage.Store, c cache.Cache, publisher EventPublisher, logger *log.Logger) *ExpenseService {
	return &ExpenseService{
		store:     store,
		cache:     c,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentExpense),
	}
}

// Create validates the request, resolves per-member shares and persists
// the expense, its splits and the implied ledger deltas atomically.
func (s *ExpenseService) Create(ctx context.Context, req CreateExpenseRequest) (*core.Expense, error) {
	group, err := s.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group %d: %w", req.GroupID, err)
	}

	expense := &core.Expense{
		GroupID:      req.GroupID,
		PaidByUserID: req.PaidByUserID,
		Description:  req.Description,
		Amount:       core.Round2(req.Amount),
		Method:       req.Method,
		CreatedAt:    time.Now().UTC(),
	}
	if err := expense.Validate(); err != nil {
		metrics.InvalidSplits.Inc()
		return nil, err
	}

	if !isMember(group, req.PaidByUserID) {
		metrics.InvalidSplits.Inc()
		return nil, core.InvalidSplitf("payer %d is not a member of group %d", req.PaidByUserID, group.ID)
	}
	for _, spec := range req.Splits {
		if !isMember(group, spec.UserID) {
			metrics.InvalidSplits.Inc()
			return nil, core.InvalidSplitf("user %d is not a member of group %d", spec.UserID, group.ID)
		}
	}

	shares, err := split.Calculate(expense.Amount, expense.Method, group.MemberIDs, req.Splits)
	if err != nil {
		metrics.InvalidSplits.Inc()
		return nil, err
	}
	splits := orderedSplits(expense.Method, group.MemberIDs, req.Splits, shares)

	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		id, err := tx.InsertExpense(ctx, expense)
		if err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		expense.ID = id

		for i := range splits {
			splits[i].ExpenseID = id
			if err := tx.InsertSplit(ctx, splits[i]); err != nil {
				return fmt.Errorf("insert split for user %d: %w", splits[i].UserID, err)
			}
		}

		return ledger.ApplyExpense(ctx, tx, expense.GroupID, expense.PaidByUserID, splits, +1)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Expense recorded",
		log.FieldOperation, log.OpCreate,
		log.FieldExpenseID, expense.ID,
		log.FieldGroupID, expense.GroupID,
		log.FieldAmount, expense.Amount,
		log.FieldSplitMethod, string(expense.Method))
	metrics.ExpensesCreated.WithLabelValues(string(expense.Method)).Inc()

	s.invalidateGroup(ctx, expense.GroupID)
	s.publish(ctx, events.NewExpenseCreated(*expense))

	return expense, nil
}

// Delete removes an expense and replays its splits against the ledger
// with the opposite sign, restoring the balances that existed before
// the expense was recorded.
func (s *ExpenseService) Delete(ctx context.Context, expenseID int64) error {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return fmt.Errorf("load expense %d: %w", expenseID, err)
	}
	splits, err := s.store.GetExpenseSplits(ctx, expenseID)
	if err != nil {
		return fmt.Errorf("load splits for expense %d: %w", expenseID, err)
	}

	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		if err := ledger.ApplyExpense(ctx, tx, expense.GroupID, expense.PaidByUserID, splits, -1); err != nil {
			return err
		}
		return tx.DeleteExpense(ctx, expenseID)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldExpenseID, expenseID,
		log.FieldGroupID, expense.GroupID)
	metrics.ExpensesDeleted.Inc()

	s.invalidateGroup(ctx, expense.GroupID)
	s.publish(ctx, events.NewExpenseDeleted(*expense))

	return nil
}

// Get returns an expense with its persisted splits.
func (s *ExpenseService) Get(ctx context.Context, expenseID int64) (*core.Expense, []core.ExpenseSplit, error) {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	splits, err := s.store.GetExpenseSplits(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	return expense, splits, nil
}

// ListGroup returns a group's expenses, newest first.
func (s *ExpenseService) ListGroup(ctx context.Context, groupID int64) ([]core.Expense, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListGroupExpenses(ctx, groupID)
}

// invalidateGroup drops cached balance and settlement payloads after a
// write. Best effort, failures are logged and ignored.
func (s *ExpenseService) invalidateGroup(ctx context.Context, groupID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, balancesKey(groupID), planKey(groupID)); err != nil {
		s.logger.WarnContext(ctx, "Cache invalidation failed",
			log.FieldGroupID, groupID,
			log.FieldError, err.Error())
	}
}

// publish sends an expense event. Failures never fail the write: the
// expense and ledger are already committed.
func (s *ExpenseService) publish(ctx context.Context, event *events.ExpenseEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishExpenseEvent(ctx, event); err != nil {
		metrics.EventPublishFailures.Inc()
		s.logger.ErrorContext(ctx, "Failed to publish expense event",
			log.FieldOperation, log.OpPublish,
			log.FieldEventID, event.EventID,
			log.FieldExpenseID, event.ExpenseID,
			log.FieldError, err.Error())
	}
}

// orderedSplits turns the share map into persisted splits with a stable
// order: group member order for equal splits, caller order otherwise.
func orderedSplits(method core.SplitMethod, memberIDs []int64, specs []core.SplitSpec, shares map[int64]float64) []core.ExpenseSplit {
	splits := make([]core.ExpenseSplit, 0, len(shares))
	if method == core.SplitEqual {
		for _, id := range memberIDs {
			splits = append(splits, core.ExpenseSplit{UserID: id, Amount: shares[id]})
		}
		return splits
	}
	for _, spec := range specs {
		splits = append(splits, core.ExpenseSplit{
			UserID:     spec.UserID,
			Amount:     shares[spec.UserID],
			Percentage: spec.Percentage,
		})
	}
	return splits
}

func isMember(group *core.Group, userID int64) bool {
	for _, id := range group.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func balancesKey(groupID int64) string {
	return fmt.Sprintf("balances:%d", groupID)
}

func planKey(groupID int64) string {
	return fmt.Sprintf("plan:%d", groupID)
}
