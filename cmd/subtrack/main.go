package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"subtrack/internal/auth"
	"subtrack/internal/cli"
	apphttp "subtrack/internal/http"
	"subtrack/internal/log"
	"subtrack/internal/metrics"
	"subtrack/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(log.ComponentApp, "info")
	cfg, err := cli.LoadConfig()
	if err != nil {
		cli.Fatal(bootLogger, "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(log.ComponentApp, cfg.LogLevel)

	ctx, stop := cli.SignalContext()
	defer stop()

	appMetrics := metrics.New(nil)

	result, err := cli.OpenBackend(ctx, cfg, logger, appMetrics)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize data backend", err)
	}
	defer cli.CloseBackend(logger, result)

	var events services.EventPublisher
	if client := cli.ConnectAMQP(cfg, logger.WithComponent(log.ComponentAMQP)); client != nil {
		defer client.Close()
		events = client
	}

	authService := auth.NewService(result.Users, []byte(cfg.JWTSecret), cfg.SessionTTL,
		auth.WithMetrics(appMetrics))
	defer authService.Sessions().Close()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Subscriptions: services.NewSubscriptionService(result.Store, events, appMetrics),
		Auth:          authService,
		Store:         result.Store,
		Availability:  result.Availability,
		Metrics:       appMetrics,
		Logger:        logger,
	})

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.LogError(shutdownCtx, "Server shutdown error", log.OpShutdown, err, nil)
		}
	}()

	logger.Info("Starting subtrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"store_available", result.Availability.Available)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		cli.Fatal(logger, "Server error", err)
	}

	logger.Info("Server stopped gracefully")
}
