package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lucid-vigil/procwatch/internal/actions"
	"github.com/lucid-vigil/procwatch/internal/anomaly"
	"github.com/lucid-vigil/procwatch/internal/api"
	"github.com/lucid-vigil/procwatch/internal/config"
	"github.com/lucid-vigil/procwatch/internal/heuristics"
	"github.com/lucid-vigil/procwatch/internal/kernelfs"
	"github.com/lucid-vigil/procwatch/internal/logger"
	"github.com/lucid-vigil/procwatch/internal/procmodel"
	"github.com/lucid-vigil/procwatch/internal/scanner"
	"github.com/lucid-vigil/procwatch/internal/whitelist"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "procwatch",
		Short: "Heuristic and anomaly-based process surveillance",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newScanCmd())
	root.AddCommand(newTrainCmd())
	root.AddCommand(newAPICmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// shutdownContext returns a context canceled on SIGINT/SIGTERM, and a
// pointer that is set to true once that happens — callers use it to choose
// exit code 130 (the conventional SIGINT exit status) over 0.
func shutdownContext() (context.Context, context.CancelFunc, *bool) {
	signaled := false
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		signaled = true
		cancel()
	}()
	return ctx, cancel, &signaled
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func buildScanner(cfg *config.Config, modelPath string, minScoreOverride float64, hasOverride bool) (*scanner.Scanner, error) {
	eval := heuristics.New(heuristics.Weights(cfg.Weights), cfg.CPUHigh, heuristics.ParsePorts(cfg.Ports))
	wl := whitelist.New(whitelist.Config{
		Names:    cfg.Whitelist.Names,
		Users:    cfg.Whitelist.Users,
		Patterns: cfg.Whitelist.Patterns,
		Hashes:   cfg.Whitelist.Hashes,
		Paths:    cfg.Whitelist.Paths,
	})

	var model anomaly.Model
	if modelPath != "" {
		m, err := anomaly.Load(modelPath)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		model = m
	}

	minScore := cfg.MinScore
	if hasOverride {
		minScore = minScoreOverride
	}

	opts := scanner.Options{
		ProcRoot:  kernelfs.Root,
		MinScore:  minScore,
		TopK:      cfg.TopK,
		MLWeight:  cfg.MLWeight,
		Whitelist: wl,
		Model:     model,
	}
	return scanner.New(eval, opts), nil
}

func newScanCmd() *cobra.Command {
	var (
		interval    time.Duration
		modelPath   string
		minScore    float64
		hasMinScore bool
		stopOnAlert bool
		killOnAlert bool
		dumpDir     string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run continuous (or one-shot) scan passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hasMinScore = cmd.Flags().Changed("min-score")

			s, err := buildScanner(cfg, modelPath, minScore, hasMinScore)
			if err != nil {
				return err
			}

			exec := actions.NewExecutor()
			if killOnAlert {
				exec.Register(actions.KillAction{})
			}
			if dumpDir != "" {
				exec.Register(actions.DumpAction{BaseDir: dumpDir, ProcRoot: kernelfs.Root})
			}

			ctx, cancel, signaled := shutdownContext()
			defer cancel()

			report := func(ctx context.Context, result procmodel.PassResult) {
				for _, r := range result.Findings {
					exec.Run(ctx, r)
				}
			}

			s.RunContinuous(ctx, interval, stopOnAlert, report)
			if *signaled {
				os.Exit(130)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between scan passes")
	cmd.Flags().StringVar(&modelPath, "model", "", "path to a trained anomaly model (omit for heuristics-only scoring)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "override the configured minimum total score to report")
	cmd.Flags().BoolVar(&stopOnAlert, "stop-on-alert", false, "exit after the first pass containing a critical finding")
	cmd.Flags().BoolVar(&killOnAlert, "kill-on-alert", false, "send SIGKILL to every flagged process")
	cmd.Flags().StringVar(&dumpDir, "dump", "", "directory to write forensic evidence dumps to (omit to skip dumping)")

	return cmd
}

func newTrainCmd() *cobra.Command {
	var (
		duration   time.Duration
		interval   time.Duration
		modelPath  string
		useSklearn bool
		numTrees   int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Collect feature vectors over a window and fit an anomaly model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("use-sklearn") {
				useSklearn = cfg.UseSklearn
			}

			eval := heuristics.New(heuristics.Weights(cfg.Weights), cfg.CPUHigh, heuristics.ParsePorts(cfg.Ports))
			s := scanner.New(eval, scanner.Options{ProcRoot: kernelfs.Root})

			ctx, cancel, signaled := shutdownContext()
			defer cancel()

			log.Info().Dur("duration", duration).Dur("interval", interval).Msg("starting training window")
			vectors := s.RunTraining(ctx, duration, interval)
			log.Info().Int("samples", len(vectors)).Msg("training window complete")
			if *signaled {
				log.Warn().Msg("training window interrupted before completion; model reflects partial data")
			}

			model := anomaly.Choose(useSklearn, numTrees)
			model.Train(vectors)

			if modelPath == "" {
				modelPath = "procwatch.model.json"
			}
			if err := anomaly.Save(model, modelPath); err != nil {
				return fmt.Errorf("save model: %w", err)
			}
			log.Info().Str("path", modelPath).Str("kind", model.Kind()).Msg("model saved")
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 10*time.Minute, "total training window")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between training samples")
	cmd.Flags().StringVar(&modelPath, "model", "", "output path for the trained model")
	cmd.Flags().BoolVar(&useSklearn, "use-sklearn", false, "use the isolation-forest estimator instead of z-score")
	cmd.Flags().IntVar(&numTrees, "trees", anomaly.DefaultTrees, "number of trees for the isolation-forest estimator")

	return cmd
}

func newAPICmd() *cobra.Command {
	var (
		modelPath string
		interval  time.Duration
		host      string
		port      string
	)

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run continuous scanning behind an HTTP reporting surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.APIPort
			}

			s, err := buildScanner(cfg, modelPath, 0, false)
			if err != nil {
				return err
			}

			srv := api.NewServer()
			ctx, cancel, signaled := shutdownContext()
			defer cancel()

			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(host, port); err != nil {
					serveErr <- err
					cancel()
				}
			}()

			s.RunContinuous(ctx, interval, false, func(_ context.Context, result procmodel.PassResult) {
				srv.Update(result)
			})

			select {
			case err := <-serveErr:
				return fmt.Errorf("api server stopped: %w", err)
			default:
			}
			if *signaled {
				os.Exit(130)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "path to a trained anomaly model (omit for heuristics-only scoring)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between scan passes")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "host to bind to")
	cmd.Flags().StringVar(&port, "port", "", "port to bind to (defaults to the configured api_port)")

	return cmd
}
