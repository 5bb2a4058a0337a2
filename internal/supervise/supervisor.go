package supervise

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/bootstrap"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/config"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/sdapi"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/telemetry"
)

const stopGrace = 10 * time.Second

// Supervisor launches the image-generation backend in the background and the
// job handler in the foreground, holding both as supervised child handles.
// Its exit code is always the handler's exit code.
type Supervisor struct {
	cfg     config.Config
	env     bootstrap.Env
	probe   *sdapi.Client
	backend *Process
}

// New creates a supervisor for the given configuration and child environment.
func New(cfg config.Config, env bootstrap.Env) *Supervisor {
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Backend.Port)
	return &Supervisor{
		cfg:   cfg,
		env:   env,
		probe: sdapi.NewClient(base, 5*time.Second),
	}
}

// BackendArgs assembles the API-only launch arguments for the webui: no UI,
// HTTP API on the loopback port, startup validation skipped, xformers
// attention on, half-precision VAE off, safe-unpickle off, and no model
// re-download or re-hashing for weights already on the volume.
func BackendArgs(cfg config.Config) []string {
	args := []string{
		cfg.Backend.Script,
		"--api",
		"--nowebui",
		"--port", strconv.Itoa(cfg.Backend.Port),
		"--skip-version-check",
		"--skip-python-version-check",
		"--skip-torch-cuda-test",
		"--xformers",
		"--no-half-vae",
		"--disable-safe-unpickle",
		"--no-download-sd-model",
		"--no-hashing",
	}
	return append(args, cfg.Backend.ExtraArgs...)
}

// StartBackend spawns the webui asynchronously. The supervisor does not block
// on readiness here; see WaitReady.
func (s *Supervisor) StartBackend(ctx context.Context) error {
	p, err := Start(ctx, Spec{
		Name:    "backend",
		Command: s.cfg.Backend.Command,
		Args:    BackendArgs(s.cfg),
		Dir:     s.cfg.Backend.Dir,
		Env:     s.env.Render(),
	})
	if err != nil {
		return fmt.Errorf("launch backend: %w", err)
	}
	s.backend = p
	return nil
}

// WaitReady polls the backend's model list endpoint until it answers 200.
// Progress is logged only every 15 attempts to keep container logs quiet.
// A backend that exits before becoming ready fails the wait immediately.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Readiness.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	interval := time.Duration(s.cfg.Readiness.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.backend.Done():
			return fmt.Errorf("backend exited with code %d before becoming ready", s.backend.ExitCode())
		case <-deadline:
			return fmt.Errorf("backend not ready after %s", timeout)
		case <-ticker.C:
			attempts++
			if err := s.probe.Ping(ctx); err != nil {
				if attempts%15 == 0 {
					log.Info().Int("attempts", attempts).Msg("Backend not ready yet, retrying")
				}
				continue
			}
			telemetry.TimerGlobal("a1111_backend_ready_duration", time.Since(start), map[string]string{
				"component": "supervisor",
			})
			log.Info().Dur("elapsed", time.Since(start)).Int("attempts", attempts).Msg("Backend API ready")
			return nil
		}
	}
}

// RunHandler spawns the handler in the foreground and blocks until it exits,
// returning the handler's exit code.
func (s *Supervisor) RunHandler(ctx context.Context) (int, error) {
	p, err := Start(ctx, Spec{
		Name:    "handler",
		Command: s.cfg.Handler.Command,
		Args:    s.cfg.Handler.Args,
		Env:     s.env.Render(),
	})
	if err != nil {
		return 1, fmt.Errorf("launch handler: %w", err)
	}
	code, err := p.Wait(ctx)
	if err != nil {
		// Context canceled: shut the handler down and propagate its code.
		p.Stop(stopGrace)
		return p.ExitCode(), nil
	}
	return code, nil
}

// Run executes the full boot sequence: backend launch, optional readiness
// gate, foreground handler. The backend is terminated once the handler exits,
// and the returned code is the container's exit status.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if err := s.StartBackend(ctx); err != nil {
		return 1, err
	}
	defer s.StopBackend()

	if s.cfg.Readiness.Skip {
		log.Warn().Msg("Readiness gate disabled, starting handler immediately")
	} else {
		if err := s.WaitReady(ctx); err != nil {
			return 1, fmt.Errorf("readiness gate: %w", err)
		}
	}

	log.Info().Msg("Starting job handler")
	return s.RunHandler(ctx)
}

// StopBackend terminates the backend child if it is still running.
func (s *Supervisor) StopBackend() {
	if s.backend != nil {
		s.backend.Stop(stopGrace)
	}
}
