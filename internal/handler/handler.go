package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/journal"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/sdapi"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/telemetry"
)

// Publisher is the slice of the message layer the handler needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Handler proxies queued jobs to the local image-generation backend and
// publishes results. Inference failures are job outcomes, not handler
// failures: the job is acked and a failed result is published, matching the
// serverless contract.
type Handler struct {
	client       *sdapi.Client
	publisher    Publisher
	journal      *journal.Store
	resultsQueue string
	sem          chan struct{}
}

// Config wires the handler's collaborators.
type Config struct {
	Client       *sdapi.Client
	Publisher    Publisher
	Journal      *journal.Store
	ResultsQueue string
	Limits       Limits
}

// New creates a handler with a concurrency gate sized from the limits.
func New(cfg Config) *Handler {
	level := cfg.Limits.Level()
	log.Info().Int("concurrency", level).Msg("Handler concurrency level set")
	return &Handler{
		client:       cfg.Client,
		publisher:    cfg.Publisher,
		journal:      cfg.Journal,
		resultsQueue: cfg.ResultsQueue,
		sem:          make(chan struct{}, level),
	}
}

// WaitBackend polls the backend API until it answers, logging progress only
// every 15 attempts so container logs stay quiet. The handler performs its
// own wait because the orchestrator's readiness gate can be disabled.
func (h *Handler) WaitBackend(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("backend not reachable after %s", timeout)
		case <-ticker.C:
			attempts++
			if err := h.client.Ping(ctx); err != nil {
				if attempts%15 == 0 {
					log.Info().Int("attempts", attempts).Msg("Backend not ready yet, retrying")
				}
				continue
			}
			log.Info().Msg("Backend API ready")
			return nil
		}
	}
}

// Handle processes one queue delivery. The returned error requeues the
// delivery, so it is reserved for infrastructure failures (result publish);
// malformed payloads are dropped and inference errors become failed results.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		log.Error().Err(err).Msg("Malformed job payload, dropping")
		telemetry.CounterGlobal("a1111_jobs_malformed", 1, map[string]string{"component": "handler"})
		return nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.sem }()

	start := time.Now()
	result := h.run(ctx, job)
	elapsed := time.Since(start)

	labels := map[string]string{"component": "handler", "status": result.Status}
	telemetry.CounterGlobal("a1111_jobs_total", 1, labels)
	telemetry.TimerGlobal("a1111_inference_duration", elapsed, labels)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", job.ID, err)
	}
	if err := h.publisher.Publish(ctx, h.resultsQueue, payload); err != nil {
		return fmt.Errorf("publish result for job %s: %w", job.ID, err)
	}

	if h.journal != nil {
		err := h.journal.Record(ctx, journal.Entry{
			ID:       job.ID,
			Status:   result.Status,
			Error:    result.Error,
			Duration: elapsed,
		})
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to journal job outcome")
		}
	}

	log.Info().
		Str("job_id", job.ID).
		Str("status", result.Status).
		Dur("duration", elapsed).
		Msg("Job processed")
	return nil
}

// run executes the inference request and shapes the outcome.
func (h *Handler) run(ctx context.Context, job Job) Result {
	out, err := h.client.Txt2Img(ctx, job.Input)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Inference failed")
		return Result{ID: job.ID, Status: StatusFailed, Error: err.Error()}
	}
	return Result{ID: job.ID, Status: StatusCompleted, Output: out}
}
