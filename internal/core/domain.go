package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Epsilon is the smallest meaningful amount of money. Balances and
// settlements below this threshold are treated as fully settled.
const Epsilon = 0.01

// Round2 rounds a monetary amount to two decimal places, half away
// from zero. Every amount that is persisted or compared goes through
// this first.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

const (
	SplitEqual      SplitMethod = "equal"
	SplitPercentage SplitMethod = "percentage"
	SplitExact      SplitMethod = "exact"
)

type (
	SplitMethod string

	User struct {
		ID        int64
		Name      string
		Email     string
		CreatedAt time.Time
	}

	Group struct {
		ID          int64
		Name        string
		Description string
		CreatedAt   time.Time
		MemberIDs   []int64
	}

	Expense struct {
		ID           int64
		GroupID      int64
		PaidByUserID int64
		Description  string
		Amount       float64
		Method       SplitMethod
		CreatedAt    time.Time
	}

	// SplitSpec is a caller-supplied share of an expense. Amount is set
	// for exact splits, Percentage for percentage splits; equal splits
	// carry neither.
	SplitSpec struct {
		UserID     int64
		Amount     *float64
		Percentage *float64
	}

	// ExpenseSplit is a persisted share. Amount is always the resolved
	// monetary value, regardless of the method that produced it.
	ExpenseSplit struct {
		ExpenseID  int64
		UserID     int64
		Amount     float64
		Percentage *float64
	}

	// BalanceEdge is a directed debt between two members of a group.
	// At most one edge exists per unordered pair, and its amount is
	// always greater than Epsilon.
	BalanceEdge struct {
		GroupID    int64
		DebtorID   int64
		CreditorID int64
		Amount     float64
	}

	SettlementSuggestion struct {
		FromUserID  int64
		ToUserID    int64
		Amount      float64
		Description string
	}

	// NetSummary aggregates a user's position across all groups.
	NetSummary struct {
		UserID     int64
		TotalOwed  float64
		TotalOwing float64
		Net        float64
	}
)

var (
	ErrInvalidSplit       = errors.New("invalid split")
	ErrGroupNotFound      = errors.New("group not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrExpenseNotFound    = errors.New("expense not found")
	ErrLedgerInconsistent = errors.New("ledger inconsistent")
)

// InvalidSplitf wraps ErrInvalidSplit with a reason, so callers can
// branch with errors.Is and still surface the detail.
func InvalidSplitf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSplit, fmt.Sprintf(format, args...))
}

func (m SplitMethod) Validate() error {
	switch m {
	case SplitEqual, SplitPercentage, SplitExact:
		return nil
	default:
		return InvalidSplitf("unknown split method %q", string(m))
	}
}

func (e Expense) Validate() error {
	if e.GroupID <= 0 {
		return InvalidSplitf("expense group id must be positive")
	}
	if e.PaidByUserID <= 0 {
		return InvalidSplitf("expense payer id must be positive")
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return InvalidSplitf("empty description")
	}
	if len(e.Description) > 200 {
		return InvalidSplitf("description too long (max 200 characters)")
	}
	if e.Amount <= 0 {
		return InvalidSplitf("amount must be positive")
	}
	return e.Method.Validate()
}

func (b BalanceEdge) Validate() error {
	if b.DebtorID == b.CreditorID {
		return fmt.Errorf("%w: self edge for user %d", ErrLedgerInconsistent, b.DebtorID)
	}
	if b.Amount <= Epsilon {
		return fmt.Errorf("%w: edge amount %.2f below threshold", ErrLedgerInconsistent, b.Amount)
	}
	return nil
}
