package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adsdash/internal/amqp"
	"adsdash/internal/auth"
	"adsdash/internal/config"
	apphttp "adsdash/internal/http"
	"adsdash/internal/log"
	"adsdash/internal/metrics"
	"adsdash/internal/services"
	"adsdash/internal/sheets"
	gsheet "adsdash/internal/sheets/google"
	mem "adsdash/internal/sheets/memory"
	"adsdash/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)
	appLog := logger.WithComponent(log.ComponentApp)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		appLog.Error("failed to open database", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var source sheets.RowSource
	switch cfg.SheetBackend {
	case "sheets":
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			appLog.Error("failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		source = client
		appLog.Info("using Google Sheets backend")
	default:
		source = mem.New()
		appLog.Info("using in-memory sheet backend")
	}

	m := metrics.New()

	var syncOpts []services.SyncOption
	syncOpts = append(syncOpts, services.WithSyncMetrics(m))
	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			appLog.Warn("AMQP unavailable, sync reports will not be published", log.FieldError, err)
		} else {
			defer publisher.Close()
			syncOpts = append(syncOpts, services.WithReportPublisher(publisher))
		}
	}

	syncService := services.NewSyncService(source, repo, cfg.SheetNames, logger, syncOpts...)
	dashService := services.NewDashboardService(repo, logger)

	authCfg := auth.DefaultConfig()
	authCfg.SessionTTL = cfg.SessionTTL
	authCfg.MaxFailedAttempts = int64(cfg.MaxFailedLogins)
	authCfg.AttemptWindow = cfg.LoginWindow
	authService := auth.NewService(repo, authCfg, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Sync:         syncService,
		Dashboard:    dashService,
		Auth:         authService,
		Admin:        repo,
		Metrics:      m,
		Logger:       logger,
		CacheTTL:     cfg.CacheTTL,
		CacheMaxSize: cfg.CacheMaxSize,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	if cfg.SyncOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := syncService.Run(ctx); err != nil {
				appLog.Error("startup sync failed", log.FieldError, err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		appLog.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	appLog.Info("starting adsdash server", "port", cfg.Port, "backend", cfg.SheetBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLog.Error("server error", log.FieldError, err)
		os.Exit(1)
	}

	<-ctx.Done()
	appLog.Info("server stopped gracefully")
}
