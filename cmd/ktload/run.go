package main

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/ktrace/internal/loadgen"
	"github.com/okian/ktrace/pkg/logger"
)

const maxMismatchesShown = 20

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a workload and verify replay idempotence",
	Long: `Submit a generated workload, then replay every attempt through
/api/trace and compare each knowledge state before and after.

The command fails if the replay applied any evidence or moved any
probability.

Example:
  ktload run --url http://localhost:9080 --api-key secret --async`,
	RunE: runLoad,
}

func init() {
	runCmd.Flags().StringVar(&baseURL, "url", "http://localhost:9080", "Base URL of the service")
	runCmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token for /api/*")
	runCmd.Flags().IntVar(&workload.Workers, "workers", runtime.NumCPU()*2, "Concurrent submitters")
	runCmd.Flags().DurationVar(&workload.Timeout, "timeout", loadgen.DefaultTimeout, "HTTP request timeout")
	runCmd.Flags().DurationVar(&workload.DrainLimit, "drain-timeout", loadgen.DefaultDrainLimit, "Wait limit for the async queue")
	runCmd.Flags().BoolVar(&workload.Async, "async", false, "Submit through /api/trace/async")
	runCmd.Flags().BoolVar(&workload.SkipReplay, "skip-replay", false, "Skip the idempotence check")
	runCmd.Flags().Uint64Var(&workload.Seed, "seed", 1, "Random seed of the generated answers")
	runCmd.Flags().StringVarP(&workload.OutputFile, "output", "o", "", "Write the generated attempts to this JSON file")
	rootCmd.AddCommand(runCmd)
}

func runLoad(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workload.BaseURL = baseURL
	workload.APIKey = apiKey
	stats, mismatches, err := loadgen.Run(ctx, &workload, logger.Named("ktload"))
	for i, m := range mismatches {
		if i == maxMismatchesShown {
			fmt.Fprintf(cmd.ErrOrStderr(), "... and %d more\n", len(mismatches)-i)
			break
		}
		fmt.Fprintln(cmd.ErrOrStderr(), m.String())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d attempts in %s, %d states verified\n",
		stats.Submitted, stats.Duration.Round(time.Millisecond), stats.StatesChecked)
	return nil
}
