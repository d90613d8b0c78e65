package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapcast/internal/config"
	"zapcast/internal/constants"
	"zapcast/internal/database"
	"zapcast/internal/queue"
	"zapcast/internal/ratelimit"
	"zapcast/internal/retry"
	"zapcast/internal/service"
	"zapcast/internal/tracing"
	"zapcast/pkg/messenger"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Zapcast %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting Zapcast")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	client := messenger.NewClient(cfg.Messenger.APIBaseURL, cfg.Messenger.APIKey,
		time.Duration(cfg.Messenger.SendTimeoutSec)*time.Second)

	limiter := ratelimit.New(cfg.Dispatch.SendsPerMinute)
	defer limiter.Close()

	dispatchQueue := queue.New()
	defer dispatchQueue.Close()

	orchestrator := service.NewOrchestrator(db, dispatchQueue, logger)
	tracker := service.NewDeliveryTracker(db, logger, orchestrator.RefreshCounters)
	gate := service.NewApprovalGate(db, orchestrator, logger)
	campaigns := service.NewCampaignService(db, cfg.Dispatch.MaxRecipients, cfg.Messenger.Channel, logger)
	groups := service.NewGroupService(db, logger)

	// Re-queue anything that was still owed when the last process died.
	if err := orchestrator.RebuildQueue(ctx); err != nil {
		return fmt.Errorf("failed to rebuild dispatch queue: %w", err)
	}

	pool := service.NewWorkerPool(dispatchQueue, limiter, client, tracker, backoff, service.WorkerPoolOptions{
		Workers:     cfg.Dispatch.Workers,
		MaxAttempts: cfg.Dispatch.MaxSendAttempts,
		SendTimeout: time.Duration(cfg.Messenger.SendTimeoutSec) * time.Second,
	}, logger)
	pool.Start(ctx)

	scheduler := service.NewScheduler(db, orchestrator,
		time.Duration(cfg.Dispatch.SchedulerSweepSec)*time.Second,
		cfg.Dispatch.AuditRetentionDays, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, campaigns, groups, gate, orchestrator, tracker, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	// Stop feeding workers, then wait for in-flight sends to finish.
	dispatchQueue.Close()
	pool.Wait()

	logger.Info("Shutdown complete")
	return nil
}
