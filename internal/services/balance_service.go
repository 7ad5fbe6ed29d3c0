package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"splitledger/internal/cache"
	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/metrics"
	"splitledger/internal/settle"
	"splitledger/internal/storage"
)

// BalanceService serves the read side: group balances, settlement plans
// and per-user summaries. Group-level payloads are cached until the
// next write to the group invalidates them.
type BalanceService struct {
	store    storage.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *log.Logger
}

func NewBalanceService(store storage.Store, c cache.Cache, cacheTTL time.Duration, logger *log.Logger) *BalanceService {
	return &BalanceService{
		store:    store,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger.WithComponent(log.ComponentBalance),
	}
}

// GroupBalances returns every live debt edge of a group.
func (s *BalanceService) GroupBalances(ctx context.Context, groupID int64) ([]core.BalanceEdge, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	var cached []core.BalanceEdge
	if s.lookup(ctx, balancesKey(groupID), &cached) {
		return cached, nil
	}

	edges, err := s.store.GroupBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances for group %d: %w", groupID, err)
	}

	s.remember(ctx, balancesKey(groupID), edges)
	return edges, nil
}

// SettlementPlan computes the minimal transfer list that clears a
// group's balances.
func (s *BalanceService) SettlementPlan(ctx context.Context, groupID int64) ([]core.SettlementSuggestion, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var cached []core.SettlementSuggestion
	if s.lookup(ctx, planKey(groupID), &cached) {
		return cached, nil
	}

	edges, err := s.store.GroupBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances for group %d: %w", groupID, err)
	}

	names := make(map[int64]string, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load member %d: %w", id, err)
		}
		names[id] = user.Name
	}

	plan := settle.Optimize(edges, names)

	metrics.SettlementPlans.Inc()
	metrics.SettlementPlanSize.Observe(float64(len(plan)))
	s.logger.InfoContext(ctx, "Settlement plan computed",
		log.FieldOperation, log.OpSettle,
		log.FieldGroupID, groupID,
		log.FieldEdgeCount, len(edges),
		"transfers", len(plan))

	s.remember(ctx, planKey(groupID), plan)
	return plan, nil
}

// UserSummary aggregates a user's position across all groups.
func (s *BalanceService) UserSummary(ctx context.Context, userID int64) (core.NetSummary, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return core.NetSummary{}, err
	}
	return s.store.UserSummary(ctx, userID)
}

// lookup fetches and decodes a cached payload. Any cache error counts
// as a miss.
func (s *BalanceService) lookup(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Cache read failed", "key", key, log.FieldError, err.Error())
		return false
	}
	if !ok {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		s.logger.WarnContext(ctx, "Cache payload corrupt", "key", key, log.FieldError, err.Error())
		return false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return true
}

func (s *BalanceService) remember(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "Cache write failed", "key", key, log.FieldError, err.Error())
	}
}
