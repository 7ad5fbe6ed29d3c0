// Package metrics exposes Prometheus counters for the write and
// settlement paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExpensesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitledger_expenses_created_total",
		Help: "Expenses recorded, by split method.",
	}, []string{"split_method"})

	ExpensesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_expenses_deleted_total",
		Help: "Expenses deleted and replayed against the ledger.",
	})

	InvalidSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_invalid_splits_total",
		Help: "Expense submissions rejected by split validation.",
	})

	SettlementPlans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_settlement_plans_total",
		Help: "Settlement plans computed.",
	})

	SettlementPlanSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitledger_settlement_plan_size",
		Help:    "Number of transfers per computed settlement plan.",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitledger_event_publish_failures_total",
		Help: "Expense events that could not be published.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitledger_cache_hits_total",
		Help: "Cache lookups, by outcome.",
	}, []string{"outcome"})

	ExportedExpenses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitledger_exported_expenses_total",
		Help: "Spreadsheet export attempts, by outcome.",
	}, []string{"outcome"})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
