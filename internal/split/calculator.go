// Package split resolves an expense amount into per-user shares.
package split

import (
	"math"

	"splitledger/internal/core"
)

// Calculate resolves shares for an expense. For equal splits the amount
// is divided across memberIDs and any rounding remainder lands on the
// first member. For percentage splits each share is rounded and the
// last spec absorbs the drift so the shares always sum to the amount.
// Exact splits are taken verbatim after verifying their sum.
func Calculate(amount float64, method core.SplitMethod, memberIDs []int64, specs []core.SplitSpec) (map[int64]float64, error) {
	if amount <= 0 {
		return nil, core.InvalidSplitf("amount must be positive")
	}
	if err := method.Validate(); err != nil {
		return nil, err
	}

	switch method {
	case core.SplitEqual:
		return splitEqual(amount, memberIDs)
	case core.SplitPercentage:
		return splitPercentage(amount, specs)
	default:
		return splitExact(amount, specs)
	}
}

func splitEqual(amount float64, memberIDs []int64) (map[int64]float64, error) {
	if len(memberIDs) == 0 {
		return nil, core.InvalidSplitf("equal split requires at least one member")
	}
	if err := uniqueUsers(memberIDs); err != nil {
		return nil, err
	}

	share := core.Round2(amount / float64(len(memberIDs)))
	shares := make(map[int64]float64, len(memberIDs))
	for _, id := range memberIDs {
		shares[id] = share
	}
	// First member picks up the rounding remainder.
	shares[memberIDs[0]] = core.Round2(amount - share*float64(len(memberIDs)-1))
	return shares, nil
}

func splitPercentage(amount float64, specs []core.SplitSpec) (map[int64]float64, error) {
	if len(specs) == 0 {
		return nil, core.InvalidSplitf("percentage split requires at least one share")
	}
	ids := make([]int64, 0, len(specs))
	total := 0.0
	for _, s := range specs {
		if s.Percentage == nil {
			return nil, core.InvalidSplitf("missing percentage for user %d", s.UserID)
		}
		if *s.Percentage < 0 {
			return nil, core.InvalidSplitf("negative percentage for user %d", s.UserID)
		}
		ids = append(ids, s.UserID)
		total += *s.Percentage
	}
	if err := uniqueUsers(ids); err != nil {
		return nil, err
	}
	if math.Abs(total-100) > core.Epsilon {
		return nil, core.InvalidSplitf("percentages sum to %.2f, want 100", total)
	}

	shares := make(map[int64]float64, len(specs))
	allocated := 0.0
	for _, s := range specs[:len(specs)-1] {
		share := core.Round2(amount * *s.Percentage / 100)
		shares[s.UserID] = share
		allocated += share
	}
	// Last share absorbs the rounding drift.
	shares[specs[len(specs)-1].UserID] = core.Round2(amount - allocated)
	return shares, nil
}

func splitExact(amount float64, specs []core.SplitSpec) (map[int64]float64, error) {
	if len(specs) == 0 {
		return nil, core.InvalidSplitf("exact split requires at least one share")
	}
	ids := make([]int64, 0, len(specs))
	total := 0.0
	shares := make(map[int64]float64, len(specs))
	for _, s := range specs {
		if s.Amount == nil {
			return nil, core.InvalidSplitf("missing amount for user %d", s.UserID)
		}
		if *s.Amount < 0 {
			return nil, core.InvalidSplitf("negative amount for user %d", s.UserID)
		}
		ids = append(ids, s.UserID)
		total += *s.Amount
		shares[s.UserID] = *s.Amount
	}
	if err := uniqueUsers(ids); err != nil {
		return nil, err
	}
	if math.Abs(total-amount) > core.Epsilon {
		return nil, core.InvalidSplitf("shares sum to %.2f, want %.2f", total, amount)
	}
	return shares, nil
}

func uniqueUsers(ids []int64) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return core.InvalidSplitf("duplicate user %d", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
