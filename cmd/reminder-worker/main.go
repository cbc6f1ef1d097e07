package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/backend"
	"subtrack/internal/cli"
	"subtrack/internal/log"
	"subtrack/internal/metrics"
	"subtrack/internal/services"
	"subtrack/internal/storage"
	"subtrack/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(log.ComponentWorker, "info")
	cfg, err := cli.LoadConfig()
	if err != nil {
		cli.Fatal(bootLogger, "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(log.ComponentWorker, cfg.LogLevel)
	logger.Info("Starting reminder-worker")

	// An in-process store would be a private, empty copy of the data.
	if bt := backend.BackendType(cfg.DataBackend); !bt.Shared() {
		cli.Fatal(logger, "Reminder worker needs a shared data backend",
			fmt.Errorf("DATA_BACKEND=%s is not shared with the API, use sqlite", bt))
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	workerMetrics := metrics.New(nil)

	result, err := cli.OpenBackend(ctx, cfg, logger, workerMetrics)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize data backend", err)
	}
	defer cli.CloseBackend(logger, result)
	if !result.Availability.Available {
		cli.Fatal(logger, "Reminder worker needs a data backend", errors.New(result.Availability.Reason))
	}

	var (
		publisher services.ReminderPublisher
		client    *amqp.Client
	)
	if client = cli.ConnectAMQP(cfg, logger.WithComponent(log.ComponentAMQP)); client != nil {
		defer client.Close()
		publisher = client
	}

	processor := services.NewRenewalProcessor(result.Store, publisher, workerMetrics, services.RenewalOptions{
		Concurrency: cfg.ReminderConcurrency,
		AutoAdvance: cfg.AutoAdvanceRenewals,
	})
	logger.Info("Reminder processor configured",
		"interval", cfg.ReminderInterval,
		"concurrency", cfg.ReminderConcurrency,
		"auto_advance", cfg.AutoAdvanceRenewals,
		"backend", cfg.DataBackend)

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(ctx, "Metrics server error", log.OpStartup, err, nil)
		}
	}()

	if client != nil && cfg.LogReminderDeliveries {
		deliveries := worker.NewDeliveryLog(logger, workerMetrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.ConsumeReminders(ctx, deliveries.HandleReminder); err != nil && !errors.Is(err, context.Canceled) {
				logger.LogError(ctx, "Reminder consumer stopped", log.OpRemind, err, nil)
			}
		}()
	}

	var schedulerOpts []worker.Option
	if purger, ok := result.Users.(storage.SessionPurger); ok {
		schedulerOpts = append(schedulerOpts, worker.WithSessionPurger(purger))
	}
	worker.NewScheduler(processor, cfg.ReminderInterval, logger, schedulerOpts...).Run(ctx)

	logger.Info("Shutting down reminder-worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "Metrics server shutdown error", log.OpShutdown, err, nil)
	}
	wg.Wait()
	logger.Info("Reminder-worker shutdown complete")
}
