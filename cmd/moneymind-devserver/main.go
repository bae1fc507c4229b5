// Command moneymind-devserver serves the finance backend's JSON endpoints
// from a local SQLite database, for development and integration tests.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"moneymind/internal/cli"
	"moneymind/internal/devserver"
	"moneymind/internal/events"
	"moneymind/internal/log"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
	cfg, err := cli.LoadAndValidateConfig(bootstrap)
	if err != nil {
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		os.Exit(1)
	}

	var publisher events.Publisher
	eventsClient, err := cli.InitEvents(logger, cfg, "")
	if err != nil {
		// The dev server works without a broker; updates just aren't announced.
		logger.Warn("Ledger events disabled",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
	} else if eventsClient != nil {
		publisher = eventsClient
	}

	srv := devserver.New(devserver.Options{
		Addr:               ":" + cfg.Port,
		Repo:               repo,
		Paths:              cfg.Paths,
		Publisher:          publisher,
		Logger:             logger,
		StringNumbers:      cfg.DevServerStringNums,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheTTL:           cfg.AggregateCacheTTL,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if eventsClient != nil {
			if err := eventsClient.Close(); err != nil {
				logger.Error("Failed to close AMQP client", log.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close database", log.FieldError, err)
		}
	})

	logger.Info("Starting dev server",
		log.FieldOperation, log.OpStartup,
		"addr", srv.Addr,
		"db", cfg.SQLiteDBPath,
		"string_numbers", cfg.DevServerStringNums,
		"events", publisher != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed to start", log.FieldError, err, "addr", srv.Addr)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
