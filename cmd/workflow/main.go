// Command workflow runs the worker supervisory loop described in
// spec.md §4.5, withdrawing Work from one or more buckets and executing
// it until its lives are exhausted or the process is signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chimefrb/workflow/internal/archive"
	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/lifecycle"
	"github.com/chimefrb/workflow/internal/logging"
	"github.com/chimefrb/workflow/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFlags struct {
	site      string
	tags      []string
	parent    string
	events    []int
	function  string
	command   []string
	lives     int
	sleep     int
	workspace string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}
	run := &cobra.Command{
		Use:   "run <bucket>...",
		Short: "Run the workflow worker lifecycle loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), args, flags)
		},
	}

	run.Flags().StringVar(&flags.site, "site", "", "site to withdraw work for (required)")
	run.Flags().StringSliceVar(&flags.tags, "tag", nil, "tag filter, may repeat")
	run.Flags().StringVar(&flags.parent, "parent", "", "parent config filter")
	run.Flags().IntSliceVar(&flags.events, "event", nil, "event id filter, may repeat")
	run.Flags().StringVar(&flags.function, "function", "", "static function override")
	run.Flags().StringSliceVar(&flags.command, "command", nil, "static command override")
	run.Flags().IntVar(&flags.lives, "lives", -1, "number of attempts, -1 for infinite")
	run.Flags().IntVar(&flags.sleep, "sleep", 5, "seconds to sleep between attempts [1,300]")
	run.Flags().StringVar(&flags.workspace, "workspace", "", "path to the workspace YAML file (required)")
	run.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level")
	run.MarkFlagRequired("site")
	run.MarkFlagRequired("workspace")

	root := &cobra.Command{Use: "workflow"}
	root.AddCommand(run)
	return root
}

func runWorker(ctx context.Context, buckets []string, flags *runFlags) error {
	log := logging.Init("workflow")
	log = log.With("level", logging.LevelFromFlag(flags.logLevel).String())

	traceShutdown := telemetry.InitTracer(ctx, "workflow")
	defer telemetry.Flush(ctx, traceShutdown)
	metricShutdown := telemetry.InitMetrics(ctx, "workflow")
	defer telemetry.Flush(ctx, metricShutdown)

	ws, err := config.Load(flags.workspace)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	if err := ws.ResolveBaseURLs(ctx); err != nil {
		return err
	}

	sleep := flags.sleep
	if sleep < 1 {
		sleep = 1
	}
	if sleep > 300 {
		sleep = 300
	}

	bucketsClient := httpctx.NewBuckets(httpctx.Options{
		BaseURL:    ws.HTTP.Buckets,
		AuthHeader: ws.Auth.Type == "token" && ws.Auth.Provider == "github",
	})

	var s3Driver archive.Driver
	if ws.Config.Archive.Products.Storage == "s3" || ws.Config.Archive.Plots.Storage == "s3" {
		creds := config.LoadS3Credentials()
		bucket := ws.Name
		d, err := archive.NewS3Driver(ctx, bucket, creds)
		if err != nil {
			return fmt.Errorf("init s3 driver: %w", err)
		}
		s3Driver = d
	}
	registry := archive.NewRegistry(s3Driver)

	worker := lifecycle.New(bucketsClient, registry, lifecycle.Options{
		Filter: lifecycle.Filter{
			Buckets:  buckets,
			Site:     flags.site,
			Tags:     flags.tags,
			Parent:   flags.parent,
			Event:    flags.events,
			Function: flags.function,
			Command:  flags.command,
		},
		Lives:     flags.lives,
		Sleep:     time.Duration(sleep) * time.Second,
		Workspace: ws,
	}, log)

	return worker.Run(ctx)
}
