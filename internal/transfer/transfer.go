// Package transfer implements the fixed-cadence daemon that moves
// terminal Work from Buckets into Results and deletes the originals, per
// spec.md §4.7. It shares the cron-cadence model of internal/audit,
// grounded on the same teacher Scheduler (services/orchestrator/scheduler.go).
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/telemetry"
	"github.com/chimefrb/workflow/internal/work"
)

// DefaultSleep matches the audit daemon's cadence default, per spec.md §4.7.
const DefaultSleep = 5 * time.Second

// DefaultCutoff is the stale/failure-retention window, per spec.md §4.7.
const DefaultCutoff = 7 * 24 * time.Hour

// DefaultLimit bounds each tick's view queries, restored from the
// original transfer_work entrypoint's limit_per_run (SPEC_FULL.md
// supplemental features §4).
const DefaultLimit = 1000

// Counts is the {transfered, deleted} result of one tick.
type Counts struct {
	Transfered int
	Deleted    int
}

// Daemon runs the transfer sweep on a fixed cadence.
type Daemon struct {
	buckets    *httpctx.Buckets
	results    *httpctx.Results
	workspace  *config.Workspace
	sleep      time.Duration
	cutoff     time.Duration
	limit      int
	log        *slog.Logger
	ticks      metric.Int64Counter
	transfered metric.Int64Counter
	deleted    metric.Int64Counter
}

// New builds a transfer Daemon. ws supplies the workspace-level
// config.archive.results switch consulted by partitionTransfer.
func New(buckets *httpctx.Buckets, results *httpctx.Results, ws *config.Workspace, sleep, cutoff time.Duration, limit int, log *slog.Logger) *Daemon {
	if sleep <= 0 {
		sleep = DefaultSleep
	}
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = slog.Default()
	}
	meter := telemetry.Meter()
	ticks, _ := meter.Int64Counter("workflow_transfer_ticks_total")
	transfered, _ := meter.Int64Counter("workflow_transfer_transfered_total")
	deleted, _ := meter.Int64Counter("workflow_transfer_deleted_total")
	return &Daemon{buckets: buckets, results: results, workspace: ws, sleep: sleep, cutoff: cutoff, limit: limit, log: log, ticks: ticks, transfered: transfered, deleted: deleted}
}

// Tick performs exactly one transfer sweep, per spec.md §4.7's 6 steps.
func (d *Daemon) Tick(ctx context.Context) (Counts, error) {
	d.ticks.Add(ctx, 1)
	now := time.Now()
	cutoffTime := float64(now.Add(-d.cutoff).Unix())

	var transferCandidates, deleteOnly []*work.Work

	successRows, err := d.buckets.View(ctx, httpctx.ViewQuery{
		Query: map[string]any{"status": string(work.StatusSuccess)},
		Limit: d.limit,
	})
	if err != nil {
		return Counts{}, fmt.Errorf("view success rows: %w", err)
	}
	for _, w := range successRows {
		if d.partitionTransfer(w) {
			transferCandidates = append(transferCandidates, w)
		} else {
			deleteOnly = append(deleteOnly, w)
		}
	}

	// The attempt >= retries comparison is a cross-field test the wire
	// query can't portably express, so it's re-checked client-side below;
	// the query still narrows by status and cutoff to bound the result set.
	failureRows, err := d.buckets.View(ctx, httpctx.ViewQuery{
		Query: map[string]any{
			"status":   string(work.StatusFailure),
			"creation": map[string]any{"$gt": cutoffTime},
		},
		Limit: d.limit,
	})
	if err != nil {
		return Counts{}, fmt.Errorf("view exhausted-failure rows: %w", err)
	}
	for _, w := range failureRows {
		if w.Attempt < w.Retries {
			continue
		}
		if d.partitionTransfer(w) {
			transferCandidates = append(transferCandidates, w)
		} else {
			deleteOnly = append(deleteOnly, w)
		}
	}

	staleRows, err := d.buckets.View(ctx, httpctx.ViewQuery{
		Query: map[string]any{"creation": map[string]any{"$lt": cutoffTime}},
		Limit: d.limit,
	})
	if err != nil {
		return Counts{}, fmt.Errorf("view stale rows: %w", err)
	}
	deleteOnly = append(deleteOnly, staleRows...)

	deleteIDs := make([]string, 0, len(deleteOnly))
	for _, w := range deleteOnly {
		deleteIDs = append(deleteIDs, w.ID)
	}

	if len(transferCandidates) > 0 {
		transferredIDs, err := d.depositWithFallback(ctx, transferCandidates)
		if err != nil {
			d.log.Warn("transfer deposit failed", "error", err)
		}
		deleteIDs = append(deleteIDs, transferredIDs...)
	}

	deleteIDs = dedupe(deleteIDs)
	if len(deleteIDs) > 0 {
		if ok, err := d.buckets.DeleteIDs(ctx, deleteIDs); err != nil || !ok {
			d.log.Warn("delete_ids failed", "error", err, "ok", ok)
		}
	}

	counts := Counts{Transfered: len(transferCandidates), Deleted: len(deleteIDs)}
	d.transfered.Add(ctx, int64(counts.Transfered))
	d.deleted.Add(ctx, int64(counts.Deleted))
	d.log.Info("transfer tick complete", "transfered", counts.Transfered, "deleted", counts.Deleted)
	return counts, nil
}

// partitionTransfer decides, per spec.md §4.7 step 1/2, whether a row is a
// transfer candidate: the per-Work archive.results flag must be set AND the
// workspace itself must allow archival (config.archive.results), otherwise
// the row is delete-only even if the Work asked to be archived.
func (d *Daemon) partitionTransfer(w *work.Work) bool {
	if !w.Config.Archive.Results {
		return false
	}
	return d.workspace == nil || d.workspace.Config.Archive.Results
}

// depositWithFallback deposits the batch into Results. On failure it
// checks each item's existence in Results individually: already-present
// items are safe to delete, the still-missing subset is redeposited once
// more, per spec.md §4.7 step 4's atomicity contract ("no id is deleted
// before durably present in Results, or confirmed already present there").
func (d *Daemon) depositWithFallback(ctx context.Context, candidates []*work.Work) ([]string, error) {
	ok, err := d.results.Deposit(ctx, candidates)
	if err == nil && ok {
		return idsOf(candidates), nil
	}

	var confirmed []string
	var missing []*work.Work
	for _, w := range candidates {
		exists, existsErr := d.results.Exists(ctx, w.Pipeline, w.ID)
		if existsErr == nil && exists {
			confirmed = append(confirmed, w.ID)
			continue
		}
		missing = append(missing, w)
	}

	if len(missing) > 0 {
		if ok, retryErr := d.results.Deposit(ctx, missing); retryErr == nil && ok {
			confirmed = append(confirmed, idsOf(missing)...)
		} else {
			return confirmed, fmt.Errorf("redeposit of %d still-missing rows failed: %w", len(missing), retryErr)
		}
	}
	return confirmed, err
}

func idsOf(works []*work.Work) []string {
	ids := make([]string, len(works))
	for i, w := range works {
		ids[i] = w.ID
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Run starts the recurring cron-backed sweep and blocks until the process
// receives SIGTERM/SIGHUP/SIGINT. In testMode it performs exactly one tick.
func (d *Daemon) Run(ctx context.Context, testMode bool) error {
	if testMode {
		_, err := d.Tick(ctx)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	defer stop()

	c := cron.New()
	spec := fmt.Sprintf("@every %s", d.sleep)
	if _, err := c.AddFunc(spec, func() { d.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule transfer tick: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	<-ctx.Done()
	d.log.Info("transfer daemon shutting down")
	return nil
}
