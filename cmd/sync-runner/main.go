// The sync-runner pulls sheet data on a cron schedule, independent of the
// API server triggering syncs on demand.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"adsdash/internal/amqp"
	"adsdash/internal/config"
	"adsdash/internal/log"
	"adsdash/internal/metrics"
	"adsdash/internal/services"
	"adsdash/internal/sheets"
	gsheet "adsdash/internal/sheets/google"
	mem "adsdash/internal/sheets/memory"
	"adsdash/internal/storage"
)

const runTimeout = 10 * time.Minute

func main() {
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)
	runnerLog := logger.WithComponent(log.ComponentRunner)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		runnerLog.Error("invalid configuration", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		runnerLog.Error("failed to open database", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var source sheets.RowSource
	switch cfg.SheetBackend {
	case "sheets":
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			runnerLog.Error("failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		source = client
	default:
		source = mem.New()
		runnerLog.Warn("running against the in-memory sheet backend, syncs will be empty")
	}

	syncOpts := []services.SyncOption{services.WithSyncMetrics(metrics.New())}
	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			runnerLog.Warn("AMQP unavailable, sync reports will not be published", log.FieldError, err)
		} else {
			defer publisher.Close()
			syncOpts = append(syncOpts, services.WithReportPublisher(publisher))
		}
	}

	syncService := services.NewSyncService(source, repo, cfg.SheetNames, logger, syncOpts...)

	runSync := func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		report, err := syncService.Run(ctx)
		if err != nil {
			runnerLog.Error("scheduled sync aborted", log.FieldError, err)
			return
		}
		runnerLog.Info("scheduled sync finished",
			log.FieldRows, report.TotalRecords,
			log.FieldInserted, report.TotalInserted,
			log.FieldUpdated, report.TotalUpdated,
			"failedSheets", len(report.Failed))
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SyncSchedule, runSync); err != nil {
		runnerLog.Error("invalid sync schedule", log.FieldError, err, "schedule", cfg.SyncSchedule)
		os.Exit(1)
	}

	if cfg.SyncOnStart {
		runSync()
	}

	scheduler.Start()
	runnerLog.Info("sync runner started", "schedule", cfg.SyncSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	runnerLog.Info("shutdown signal received", "signal", sig.String())

	// Let an in-flight run finish before exiting.
	<-scheduler.Stop().Done()
	runnerLog.Info("sync runner stopped")
}
