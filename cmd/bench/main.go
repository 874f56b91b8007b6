package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"compute-grid/internal/bench"
	"compute-grid/internal/config"
	"compute-grid/internal/executor"
	"compute-grid/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := bench.DefaultConfig()

	var (
		executors []string
		modelFile string
		params    string
		logLevel  string
		asJSON    bool
	)
	for _, t := range cfg.Executors {
		executors = append(executors, t.String())
	}

	cmd := &cobra.Command{
		Use:          "bench",
		Short:        "Benchmark executors, codecs and compression over a loopback grid",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lc := logger.DefaultConfig()
			lc.Level = logLevel
			log := logger.New(lc)
			defer log.Sync()
			cfg.Log = log

			cfg.Executors = nil
			for _, e := range executors {
				t, err := executor.ParseType(e)
				if err != nil {
					return err
				}
				cfg.Executors = append(cfg.Executors, t)
			}
			if modelFile != "" {
				code, err := os.ReadFile(modelFile)
				if err != nil {
					return err
				}
				cfg.Code = code
			}
			p, err := config.ParseParams(params)
			if err != nil {
				return err
			}
			cfg.Params = p

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := bench.Run(ctx, cfg)
			if err != nil {
				log.Error("[BENCH][ERROR]", zap.Error(err))
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if jerr := enc.Encode(results); jerr != nil {
					return jerr
				}
			} else if terr := bench.WriteTable(cmd.OutOrStdout(), results); terr != nil {
				return terr
			}
			if err != nil {
				return fmt.Errorf("benchmark stopped: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&executors, "executors", executors, "executor strategies to run")
	f.StringSliceVar(&cfg.Codecs, "codecs", cfg.Codecs, "codecs to run (DEFAULT, FST, CUSTOM)")
	f.StringSliceVar(&cfg.Compressions, "compressions", cfg.Compressions, "compressors to run (none, zstd, brotli)")
	f.IntVar(&cfg.Batches, "batches", cfg.Batches, "batches per combination")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "tasks per batch")
	f.Float64Var(&cfg.Deadline, "deadline", cfg.Deadline, "simulated time per trajectory")
	f.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "task pool size, 0 for the number of CPUs")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "STREAMING queue size")
	f.StringVar(&cfg.ModelName, "model-name", cfg.ModelName, "model name")
	f.StringVar(&modelFile, "model-file", "", "Starlark model file, the built-in random walk when empty")
	f.StringVar(&params, "params", "", "model parameters as k=v,k2=v2")
	f.StringVar(&logLevel, "log-level", "warn", "log level")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")

	return cmd
}
