// Package worker runs the asynchronous export pipeline: expense events
// consumed from the queue are mirrored to the configured spreadsheet,
// with a periodic database sweep as backup for lost messages.
package worker

import (
	"context"
	"errors"
	"fmt"

	"splitledger/internal/core"
	"splitledger/internal/events"
	"splitledger/internal/log"
	"splitledger/internal/metrics"
	"splitledger/internal/storage"
)

// Exporter mirrors expenses to an external destination.
type Exporter interface {
	AppendExpense(ctx context.Context, e core.Expense) error
	RemoveExpense(ctx context.Context, expenseID int64) error
}

// ExportWorker consumes expense events and keeps the spreadsheet in
// step with the database.
type ExportWorker struct {
	store     storage.Store
	exporter  Exporter
	batchSize int
	logger    *log.Logger
}

func NewExportWorker(store storage.Store, exporter Exporter, batchSize int, logger *log.Logger) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		store:     store,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes one expense event. Returning an error requeues
// the message, so errors are reserved for retryable failures.
func (w *ExportWorker) HandleEvent(ctx context.Context, event *events.ExpenseEvent) error {
	w.logger.InfoContext(ctx, "Processing expense event",
		log.FieldOperation, log.OpConsume,
		log.FieldEventID, event.EventID,
		log.FieldExpenseID, event.ExpenseID,
		"type", event.Type)

	switch event.Type {
	case events.TypeExpenseCreated:
		return w.exportExpense(ctx, event.ExpenseID)
	case events.TypeExpenseDeleted:
		return w.removeExpense(ctx, event.ExpenseID)
	default:
		w.logger.WarnContext(ctx, "Unknown event type, dropping",
			log.FieldEventID, event.EventID,
			"type", event.Type)
		return nil
	}
}

// ProcessPending sweeps expenses whose export never completed. Backup
// for events lost while the worker or broker was down.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.PendingExports(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("load pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense.ID); err != nil {
			w.logger.ErrorContext(ctx, "Pending export failed",
				log.FieldExpenseID, expense.ID,
				log.FieldError, err.Error())
		}
	}
	return nil
}

// StartupCheck drains a larger pending backlog once, before the event
// loop starts.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.store.PendingExports(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("load pending exports: %w", err)
	}
	if len(pending) == 0 {
		w.logger.InfoContext(ctx, "No pending exports on startup")
		return nil
	}

	w.logger.InfoContext(ctx, "Found pending exports on startup", "count", len(pending))

	exported, failed := 0, 0
	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense.ID); err != nil {
			w.logger.ErrorContext(ctx, "Startup export failed",
				log.FieldExpenseID, expense.ID,
				log.FieldError, err.Error())
			failed++
			continue
		}
		exported++
	}

	w.logger.InfoContext(ctx, "Startup export sweep completed",
		"total", len(pending),
		"exported", exported,
		"failed", failed)
	return nil
}

func (w *ExportWorker) exportExpense(ctx context.Context, expenseID int64) error {
	expense, err := w.store.GetExpense(ctx, expenseID)
	if errors.Is(err, core.ErrExpenseNotFound) {
		// Deleted before the export ran. The delete event will clean
		// up any row that made it to the sheet.
		w.logger.WarnContext(ctx, "Expense gone before export, skipping",
			log.FieldExpenseID, expenseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load expense %d: %w", expenseID, err)
	}

	if err := w.exporter.AppendExpense(ctx, *expense); err != nil {
		metrics.ExportedExpenses.WithLabelValues("error").Inc()
		if markErr := w.store.MarkExportFailed(ctx, expenseID); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to record export failure",
				log.FieldExpenseID, expenseID,
				log.FieldError, markErr.Error())
		}
		return fmt.Errorf("append expense %d: %w", expenseID, err)
	}

	if err := w.store.MarkExported(ctx, expenseID); err != nil {
		// The row is on the sheet, only the bookkeeping failed. The
		// pending sweep may append a duplicate, which is preferable to
		// failing the event.
		w.logger.ErrorContext(ctx, "Failed to mark expense exported",
			log.FieldExpenseID, expenseID,
			log.FieldError, err.Error())
	}

	metrics.ExportedExpenses.WithLabelValues("success").Inc()
	w.logger.InfoContext(ctx, "Expense exported",
		log.FieldOperation, log.OpExport,
		log.FieldExpenseID, expenseID)
	return nil
}

func (w *ExportWorker) removeExpense(ctx context.Context, expenseID int64) error {
	if err := w.exporter.RemoveExpense(ctx, expenseID); err != nil {
		metrics.ExportedExpenses.WithLabelValues("error").Inc()
		return fmt.Errorf("remove expense %d: %w", expenseID, err)
	}
	w.logger.InfoContext(ctx, "Expense removed from export",
		log.FieldOperation, log.OpExport,
		log.FieldExpenseID, expenseID)
	return nil
}
