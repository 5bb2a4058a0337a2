package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/config"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/handler"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/journal"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/mq"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/sdapi"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.LoadConfig(os.Getenv("A1111_WORKER_CONFIG"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	telemetry.InitGlobal(cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := sdapi.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Backend.Port), time.Duration(cfg.Inference.TimeoutSeconds)*time.Second)
	retry := sdapi.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Inference.MaxAttempts
	client.SetRetry(retry)

	// The journal is best-effort; a broken local disk must not stop inference.
	store, err := journal.NewStore(cfg.Journal.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("Job journal unavailable")
		store = nil
	} else {
		defer store.Close()
	}

	conn, err := mq.NewConnection(cfg.Queue.URL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to message broker")
		os.Exit(1)
	}
	defer conn.Close()
	if err := conn.DeclareQueues(cfg.Queue.Jobs, cfg.Queue.Results); err != nil {
		log.Error().Err(err).Msg("Failed to declare queues")
		os.Exit(1)
	}

	h := handler.New(handler.Config{
		Client:       client,
		Publisher:    mq.NewPublisher(conn),
		Journal:      store,
		ResultsQueue: cfg.Queue.Results,
		Limits: handler.Limits{
			Min:     cfg.Concurrency.Min,
			Optimal: cfg.Concurrency.Optimal,
			Max:     cfg.Concurrency.Max,
		},
	})

	// The monitoring server comes up before the backend wait so operators can
	// probe /health while the webui is still loading, or when it never loads.
	ms := telemetry.NewMonitoringServer(fmt.Sprintf(":%d", cfg.Telemetry.MonitoringPort), telemetry.GetGlobal())
	ms.RegisterHealthCheck("backend", func() telemetry.HealthCheck {
		check := telemetry.HealthCheck{Name: "backend", Status: telemetry.HealthStatusHealthy}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx); err != nil {
			check.Status = telemetry.HealthStatusUnhealthy
			check.Message = err.Error()
		}
		return check
	})
	ms.RegisterHealthCheck("broker", func() telemetry.HealthCheck {
		check := telemetry.HealthCheck{Name: "broker", Status: telemetry.HealthStatusHealthy}
		if !conn.IsConnected() {
			check.Status = telemetry.HealthStatusDegraded
			check.Message = "reconnecting"
		}
		return check
	})
	if store != nil {
		ms.RegisterHealthCheck("journal", func() telemetry.HealthCheck {
			check := telemetry.HealthCheck{Name: "journal", Status: telemetry.HealthStatusHealthy}
			if err := store.Ping(context.Background()); err != nil {
				check.Status = telemetry.HealthStatusDegraded
				check.Message = err.Error()
			}
			return check
		})
	}
	go func() {
		if err := ms.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Monitoring server stopped")
		}
	}()
	defer ms.Shutdown()

	timeout := time.Duration(cfg.Readiness.TimeoutSeconds) * time.Second
	interval := time.Duration(cfg.Readiness.IntervalMS) * time.Millisecond
	if err := h.WaitBackend(ctx, timeout, interval); err != nil {
		log.Error().Err(err).Msg("Backend never became ready")
		_ = ms.Shutdown()
		os.Exit(1)
	}

	log.Info().Str("queue", cfg.Queue.Jobs).Msg("Handler ready, consuming jobs")
	consumer := mq.NewConsumer(conn, cfg.Queue.Jobs, cfg.Queue.Prefetch, h.Handle)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Consumer failed")
		_ = telemetry.Shutdown()
		os.Exit(1)
	}

	log.Info().Msg("Handler shutting down")
	_ = telemetry.Shutdown()
}
