package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"splitledger/internal/backend"
	"splitledger/internal/cli"
	"splitledger/internal/events"
	"splitledger/internal/export/sheets"
	"splitledger/internal/log"
	"splitledger/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap()
	ctx := context.Background()

	logger.Info("Starting splitledger-worker", log.FieldOperation, log.OpStartup)

	if !cfg.ExportEnabled() {
		logger.Error("Export is not configured, set GOOGLE_SPREADSHEET_ID and service account credentials")
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	store, err := backend.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer store.Close()

	exporter, err := sheets.NewClient(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize sheets client", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	eventClient, err := events.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 5)
	if err != nil {
		logger.Error("Failed to connect to AMQP broker", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer eventClient.Close()

	exportWorker := worker.NewExportWorker(store, exporter, cfg.ExportBatchSize, logger)

	runCtx, _ := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Drain whatever accumulated while the worker was down.
	if err := exportWorker.StartupCheck(runCtx); err != nil {
		logger.Error("Startup export sweep failed", log.FieldError, err.Error())
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return eventClient.ConsumeExpenseEvents(gctx, func(event *events.ExpenseEvent) error {
			return exportWorker.HandleEvent(gctx, event)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := exportWorker.ProcessPending(gctx); err != nil {
					logger.Error("Pending export sweep failed", log.FieldError, err.Error())
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
