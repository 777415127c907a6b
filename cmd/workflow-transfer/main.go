// Command workflow-transfer runs the fixed-cadence transfer sweep
// described in spec.md §4.7: terminal Work is deposited into Results and
// deleted from Buckets, never the reverse order.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/logging"
	"github.com/chimefrb/workflow/internal/telemetry"
	"github.com/chimefrb/workflow/internal/transfer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var workspace string
	var sleep int
	var cutoffDays int
	var limit int
	var testMode bool

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the transfer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Init("workflow-transfer")

			traceShutdown := telemetry.InitTracer(ctx, "workflow-transfer")
			defer telemetry.Flush(ctx, traceShutdown)
			metricShutdown := telemetry.InitMetrics(ctx, "workflow-transfer")
			defer telemetry.Flush(ctx, metricShutdown)

			ws, err := config.Load(workspace)
			if err != nil {
				return fmt.Errorf("load workspace: %w", err)
			}

			bucketsClient := httpctx.NewBuckets(httpctx.Options{
				BaseURL:    ws.HTTP.Buckets,
				AuthHeader: ws.Auth.Type == "token" && ws.Auth.Provider == "github",
			})
			resultsClient := httpctx.NewResults(httpctx.Options{
				BaseURL:    ws.HTTP.Results,
				AuthHeader: ws.Auth.Type == "token" && ws.Auth.Provider == "github",
			})

			d := transfer.New(
				bucketsClient,
				resultsClient,
				ws,
				time.Duration(sleep)*time.Second,
				time.Duration(cutoffDays)*24*time.Hour,
				limit,
				log,
			)
			return d.Run(ctx, testMode)
		},
	}
	run.Flags().StringVar(&workspace, "workspace", "", "path to the workspace YAML file (required)")
	run.Flags().IntVar(&sleep, "sleep", int(transfer.DefaultSleep.Seconds()), "seconds between transfer ticks")
	run.Flags().IntVar(&cutoffDays, "cutoff", int(transfer.DefaultCutoff.Hours()/24), "retention cutoff in days")
	run.Flags().IntVar(&limit, "limit", transfer.DefaultLimit, "maximum rows returned by each view query of a tick")
	run.Flags().BoolVar(&testMode, "test-mode", false, "perform exactly one tick and exit")
	run.MarkFlagRequired("workspace")

	root := &cobra.Command{Use: "workflow-transfer"}
	root.AddCommand(run)
	return root
}
