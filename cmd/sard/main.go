// Command sard runs the SAR drone-swarm coordination simulation. It
// generalizes run_sim.py's argparse surface (--scenario, --seed, --agents,
// --duration, --grid-size, --targets, --record, --replay, --verbose) into
// cobra subcommands, and the teacher's bare main()/loadConfig/http.ListenAndServe
// trio into a `run` command with an optional --http flag.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trandavy/sard/internal/config"
	"github.com/trandavy/sard/internal/httpapi"
	"github.com/trandavy/sard/internal/sim"
	"github.com/trandavy/sard/internal/telemetry"
	"github.com/trandavy/sard/internal/train"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "sard",
		Short: "SAR drone swarm coordination simulation",
	}
	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newReplayCmd(logger))
	root.AddCommand(newTrainCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		scenario   string
		configPath string
		seed       int64
		agents     int
		targets    int
		gridSize   int
		duration   int
		record     bool
		replayOut  string
		httpAddr   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation to completion (or serve it over HTTP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
				slog.SetDefault(logger)
			}

			cfg, err := resolveConfig(scenario, configPath, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("agents") {
				cfg.NumAgents = agents
			}
			if cmd.Flags().Changed("targets") {
				cfg.NumTargets = targets
			}
			if cmd.Flags().Changed("grid-size") {
				cfg.GridWidth, cfg.GridHeight = gridSize, gridSize
			}
			if cmd.Flags().Changed("duration") {
				cfg.DurationSeconds = duration
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("sard run: %w", err)
			}

			driver, err := sim.NewDriver(cfg, sim.SimulatedOracle{}, logger)
			if err != nil {
				return err
			}

			tel := telemetry.New()
			tel.Observe(driver)

			if replayOut != "" {
				record = true
			}
			if record {
				driver.StartRecording()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if httpAddr != "" {
				srv := httpapi.NewServer(driver, tel, logger)
				go driver.Start(ctx)
				logger.Info("serving control surface", "addr", httpAddr)
				return http.ListenAndServe(httpAddr, srv.Mux())
			}

			driver.Start(ctx)

			if record && replayOut != "" {
				if err := driver.SaveReplay(replayOut); err != nil {
					return err
				}
				logger.Info("replay saved", "path", replayOut)
			}

			summary, _ := driver.Metrics()
			logger.Info("run complete",
				"ticks", summary.Tick,
				"coverage_percent", summary.CoveragePercent,
				"targets_found", summary.TargetsFound,
				"handoffs", summary.Handoffs,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "named scenario preset (rescue_seeded, stress_test, minimal)")
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to a YAML config file")
	cmd.Flags().Int64Var(&seed, "seed", 0, "override the RNG seed")
	cmd.Flags().IntVar(&agents, "agents", 0, "override the number of drones")
	cmd.Flags().IntVar(&targets, "targets", 0, "override the number of targets")
	cmd.Flags().IntVar(&gridSize, "grid-size", 0, "override grid width and height (square grid)")
	cmd.Flags().IntVar(&duration, "duration", 0, "override duration_seconds")
	cmd.Flags().BoolVar(&record, "record", false, "record messages and state snapshots")
	cmd.Flags().StringVar(&replayOut, "replay-out", "", "path to write the recording to on completion (implies --record)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve a control surface at this address instead of running headless")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newReplayCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Walk a saved replay file, logging periodic progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replay, err := sim.LoadReplay(args[0])
			if err != nil {
				return err
			}
			logger.Info("replay loaded",
				"config", replay.Config,
				"messages", len(replay.Messages),
				"states", len(replay.States),
			)
			for i, state := range replay.States {
				if i%10 == 0 || i == len(replay.States)-1 {
					logger.Info("replay progress",
						"tick", state.State.Tick,
						"coverage_percent", state.State.CoveragePercent,
						"targets_found", state.State.Ground.TargetsFound,
					)
				}
			}
			return nil
		},
	}
}

func newTrainCmd(logger *slog.Logger) *cobra.Command {
	var (
		iterations int
		seed       int64
		scenario   string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Offline random-search over coordination parameters, scored by rescue rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveConfig(scenario, "", logger)
			if err != nil {
				return err
			}
			best, err := train.Run(base, train.Options{Iterations: iterations, Seed: seed}, logger)
			if err != nil {
				return err
			}
			if err := train.Save(out, best); err != nil {
				return err
			}
			logger.Info("training complete", "best_score", best.Score, "path", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 50, "number of random-search trials")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "RNG seed for the search itself")
	cmd.Flags().StringVar(&scenario, "scenario", "rescue_seeded", "scenario to score trials against")
	cmd.Flags().StringVar(&out, "out", "best_policy.yaml", "where to write the winning policy")
	return cmd
}

func resolveConfig(scenario, path string, logger *slog.Logger) (sim.Config, error) {
	if scenario != "" {
		return config.Scenario(scenario)
	}
	if path != "" {
		return config.Load(path, logger)
	}
	return config.Default(), nil
}
