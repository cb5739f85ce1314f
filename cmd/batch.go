package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kayz/sdxlprompt/internal/batch"
	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/spf13/cobra"
)

var (
	batchDir         string
	batchOutDir      string
	batchConcurrency int
	batchSchedule    string
	batchPreset      string
	batchMaxTokens   int
	batchNoCache     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Build prompts for every *.txt idea in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		dir := batchDir
		if dir == "" {
			dir = cfg.Resolve(cfg.Paths.PromptsDir)
		}
		outDir := batchOutDir
		if outDir == "" {
			outDir = cfg.Resolve(cfg.Paths.OutputPromptsDir)
		}
		concurrency := cfg.Batch.Concurrency
		if batchConcurrency > 0 {
			concurrency = batchConcurrency
		}
		schedule := cfg.Batch.Schedule
		if batchSchedule != "" {
			schedule = batchSchedule
		}

		builder, cleanup, err := newBuilder(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		runner := batch.NewRunner(builder, batch.Options{
			OutDir:      outDir,
			Concurrency: concurrency,
			Interval:    cfg.Batch.Interval,
			Burst:       cfg.Batch.Burst,
			Preset:      batchPreset,
			MaxTokens:   batchMaxTokens,
			NoCache:     batchNoCache,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if schedule != "" {
			return runner.Schedule(ctx, schedule, dir, func(r *batch.Report, err error) {
				if r != nil {
					printBatchReport(cmd, r)
				}
			})
		}

		report, err := runner.Run(ctx, dir)
		if err != nil {
			if ctx.Err() == context.Canceled {
				logger.Warn("batch interrupted")
			}
			return err
		}
		printBatchReport(cmd, report)
		if len(report.Failures) > 0 {
			return fmt.Errorf("%d of %d ideas failed", len(report.Failures), report.Total)
		}
		return nil
	},
}

func printBatchReport(cmd *cobra.Command, r *batch.Report) {
	fields := map[string]any{
		"total":     r.Total,
		"succeeded": r.Succeeded,
		"failed":    len(r.Failures),
	}
	printStatus(cmd.OutOrStdout(), "info", "batch finished", fields)
	for _, f := range r.Failures {
		printStatus(cmd.OutOrStdout(), "error", f.Err.Error(), map[string]any{"file": f.File})
	}
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "Directory of idea files (default: paths.prompts_dir)")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "Directory for <name>.prompt.txt (default: paths.output_prompts_dir)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "Parallel builds (default: batch.concurrency)")
	batchCmd.Flags().StringVar(&batchSchedule, "schedule", "", "Cron expression or descriptor; re-run until interrupted")
	batchCmd.Flags().StringVar(&batchPreset, "preset", "", "Preset name under paths.presets_dir")
	batchCmd.Flags().IntVar(&batchMaxTokens, "max-tokens", 0, "Token budget (default: prompt.max_tokens)")
	batchCmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "Always call the LLM")
	rootCmd.AddCommand(batchCmd)
}
