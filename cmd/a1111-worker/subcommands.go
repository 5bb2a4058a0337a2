package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/bootstrap"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/config"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/modelsync"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/supervise"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/telemetry"
)

// Boot the worker: filesystem prep, backend launch, foreground handler.
func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Prepare the node, launch the backend, and run the job handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			telemetry.InitGlobal(cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint)
			ctx := cmd.Context()

			target, err := resolveModelSource(ctx, cfg)
			if err != nil {
				return err
			}
			if err := bootstrap.LinkModels(cfg.Models.LocalPath, target, cfg.Models.RequireVolume); err != nil {
				return err
			}

			preload := ""
			if !cfg.Allocator.Disabled {
				preload = bootstrap.DiscoverAllocator(ctx, cfg.Allocator.Pattern)
			}
			env := bootstrap.NewEnv(preload)
			// The handler child resolves its config from the environment;
			// hand it the same file the orchestrator was started with.
			env.ConfigPath = cfgPath

			sup := supervise.New(cfg, env)
			code, err := sup.Run(ctx)
			if err != nil {
				_ = telemetry.Shutdown()
				return err
			}
			log.Info().Int("exit_code", code).Msg("Handler exited")
			_ = telemetry.Shutdown()
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

// resolveModelSource returns the directory the models path should link to.
// Normally that is the network volume; when the volume is absent and model
// sync is configured, the models are pulled from the source host into a
// local cache and the cache is linked instead.
func resolveModelSource(ctx context.Context, cfg config.Config) (string, error) {
	if !cfg.Sync.Enabled {
		return cfg.Models.VolumePath, nil
	}
	if _, err := os.Stat(cfg.Models.VolumePath); err == nil {
		return cfg.Models.VolumePath, nil
	}
	log.Info().Str("host", cfg.Sync.Host).Msg("Network volume missing, syncing models from source host")
	cache := cfg.Models.LocalPath + "-cache"
	syncer, err := modelsync.New(cfg)
	if err != nil {
		return "", err
	}
	if err := syncer.Pull(ctx, cache); err != nil {
		return "", fmt.Errorf("model sync: %w", err)
	}
	return cache, nil
}

// Inspect the node without launching anything.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the node: volume, backend install, allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Models.VolumePath); err != nil {
				fmt.Printf("volume:    missing (%s)\n", cfg.Models.VolumePath)
			} else {
				fmt.Printf("volume:    ok (%s)\n", cfg.Models.VolumePath)
			}
			script := filepath.Join(cfg.Backend.Dir, cfg.Backend.Script)
			if _, err := os.Stat(script); err != nil {
				fmt.Printf("backend:   missing (%s)\n", script)
			} else {
				fmt.Printf("backend:   ok (%s)\n", script)
			}
			if lib := bootstrap.DiscoverAllocator(cmd.Context(), cfg.Allocator.Pattern); lib != "" {
				fmt.Printf("allocator: %s\n", lib)
			} else {
				fmt.Printf("allocator: none\n")
			}
			return nil
		},
	}
}
