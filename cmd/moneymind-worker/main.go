// Command moneymind-worker exports a dashboard snapshot every time the
// development backend reports a ledger change.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"moneymind/internal/backend"
	"moneymind/internal/cli"
	"moneymind/internal/log"
	"moneymind/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Export every user once and exit instead of consuming events")
	flag.Parse()

	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
	cfg, err := cli.LoadAndValidateConfig(bootstrap)
	if err != nil {
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout).WithComponent(log.ComponentExport)
	logger.Info("Starting moneymind-worker", log.FieldOperation, log.OpStartup, "once", *once)

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		os.Exit(1)
	}
	defer repo.Close()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid export backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateExporter(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to create exporter", log.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	if res.Cleanup != nil {
		defer res.Cleanup()
	}

	w := worker.NewExportWorker(repo, res.Exporter, logger, nil)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := w.ExportAll(ctx); err != nil {
			logger.Error("Bulk export failed", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required unless -once is set")
		os.Exit(1)
	}
	consumer, err := cli.InitEvents(logger, cfg, cfg.AMQPExportQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := consumer.Close(); err != nil {
			logger.Error("Failed to close AMQP client", log.FieldError, err)
		}
	})

	go func() {
		err := consumer.ConsumeLedgerChanges(ctx, w.HandleLedgerChanged)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err, log.FieldOperation, log.OpConsume)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
