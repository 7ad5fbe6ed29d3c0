package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/cli"
	"splitledger/internal/events"
	apphttp "splitledger/internal/http"
	"splitledger/internal/log"
	"splitledger/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap()
	ctx := context.Background()

	store, err := backend.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer store.Close()

	appCache, err := backend.OpenCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open cache", log.FieldError, err.Error())
		os.Exit(1)
	}

	// The event pipeline is optional. Without a broker the API still
	// works, only the spreadsheet export stays behind.
	var eventClient *events.Client
	if cfg.AMQPURL != "" {
		eventClient, err = events.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 5)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer eventClient.Close()
	} else {
		logger.Warn("AMQP disabled, expense events will not be published")
	}

	var publisher services.EventPublisher
	if eventClient != nil {
		publisher = eventClient
	}

	expenses := services.NewExpenseService(store, appCache, publisher, logger)
	balances := services.NewBalanceService(store, appCache, cfg.CacheTTL, logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:            ":" + cfg.Port,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}, expenses, balances, store, logger)

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	})

	logger.Info("Starting splitledger server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error())
		os.Exit(1)
	}

	<-shutdownCtx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}
