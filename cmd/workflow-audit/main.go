// Command workflow-audit runs the fixed-cadence audit sweep described in
// spec.md §4.6: failed rows are requeued, expired running rows flip to
// failure, and stale rows are marked failure regardless of prior state.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chimefrb/workflow/internal/audit"
	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/logging"
	"github.com/chimefrb/workflow/internal/telemetry"
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
	var limit int
	var testMode bool

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the audit daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Init("workflow-audit")

			traceShutdown := telemetry.InitTracer(ctx, "workflow-audit")
			defer telemetry.Flush(ctx, traceShutdown)
			metricShutdown := telemetry.InitMetrics(ctx, "workflow-audit")
			defer telemetry.Flush(ctx, metricShutdown)

			ws, err := config.Load(workspace)
			if err != nil {
				return fmt.Errorf("load workspace: %w", err)
			}

			bucketsClient := httpctx.NewBuckets(httpctx.Options{
				BaseURL:    ws.HTTP.Buckets,
				AuthHeader: ws.Auth.Type == "token" && ws.Auth.Provider == "github",
			})

			d := audit.New(bucketsClient, time.Duration(sleep)*time.Second, limit, log)
			return d.Run(ctx, testMode)
		},
	}
	run.Flags().StringVar(&workspace, "workspace", "", "path to the workspace YAML file (required)")
	run.Flags().IntVar(&sleep, "sleep", int(audit.DefaultSleep.Seconds()), "seconds between audit ticks")
	run.Flags().IntVar(&limit, "limit", audit.DefaultLimit, "accepted for CLI parity with workflow-transfer; has no effect on the audit sweep")
	run.Flags().BoolVar(&testMode, "test-mode", false, "perform exactly one tick and exit")
	run.MarkFlagRequired("workspace")

	root := &cobra.Command{Use: "workflow-audit"}
	root.AddCommand(run)
	return root
}
