// Package lifecycle implements the supervisory withdraw/execute/archive/
// report loop for a single worker process, per spec.md §4.5. It is
// grounded on the teacher's service main-loop shutdown pattern
// (services/orchestrator/main.go: signal.NotifyContext + cooperative
// cancellation) generalized into an attempt state machine instead of an
// HTTP server loop.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chimefrb/workflow/internal/archive"
	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/executor"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/logging"
	"github.com/chimefrb/workflow/internal/telemetry"
	"github.com/chimefrb/workflow/internal/validate"
	"github.com/chimefrb/workflow/internal/work"
)

// Filter narrows which Work a worker withdraws, per spec.md §4.5.
type Filter struct {
	Buckets  []string
	Site     string
	Tags     []string
	Parent   string
	Event    []int
	Function string
	Command  []string
}

// Options configures one worker process's run.
type Options struct {
	Filter    Filter
	Lives     int // -1 for infinite
	Sleep     time.Duration
	Workspace *config.Workspace
}

// Worker runs the supervisory loop against a Buckets client and an archive
// storage registry.
type Worker struct {
	buckets  *httpctx.Buckets
	registry archive.Registry
	opts     Options
	log      *slog.Logger
}

// New builds a Worker.
func New(buckets *httpctx.Buckets, registry archive.Registry, opts Options, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{buckets: buckets, registry: registry, opts: opts, log: log}
}

// Run executes the supervisory loop until lives is exhausted or the
// process receives SIGTERM/SIGHUP/SIGINT.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	defer stop()

	meter := telemetry.Meter()
	attempts, _ := meter.Int64Counter("workflow_lifecycle_attempts_total")
	emptyWithdraws, _ := meter.Int64Counter("workflow_lifecycle_withdraw_empty_total")

	lives := w.opts.Lives
	for lives != 0 {
		if ctx.Err() != nil {
			return nil
		}
		w.attempt(ctx, attempts, emptyWithdraws)
		if lives > 0 {
			lives--
		}
		if lives == 0 {
			return nil
		}
		if !sleepCancellable(ctx, w.opts.Sleep) {
			return nil
		}
	}
	return nil
}

// attempt runs one withdraw->execute->archive->report cycle, per
// spec.md §4.5.1. It returns the terminal status observed, or "" if no
// work was withdrawn.
func (w *Worker) attempt(ctx context.Context, attempts, emptyWithdraws metric.Int64Counter) work.Status {
	withdrawn, err := w.withdraw(ctx)
	if err != nil {
		w.log.Warn("withdraw failed", "error", err)
		return ""
	}
	if withdrawn == nil {
		emptyWithdraws.Add(ctx, 1)
		return ""
	}

	log := logging.WithWork(w.log, withdrawn.ID)
	w.applyOverride(withdrawn)

	if withdrawn.Function == "" && len(withdrawn.Command) == 0 {
		withdrawn.Status = work.StatusFailure
		log.Error("withdrawn work has neither function nor command set after override")
		w.report(ctx, log, withdrawn)
		attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(withdrawn.Status))))
		return withdrawn.Status
	}

	executed := executor.Run(ctx, withdrawn)
	if executed.Start != 0 && executed.Timeout != 0 {
		deadline := executed.Start + float64(executed.Timeout)
		if float64(time.Now().Unix()) > deadline {
			executed.Status = work.StatusFailure
			log.Warn("work exceeded its timeout", "timeout", executed.Timeout)
		}
	}

	archive.Archive(ctx, w.opts.Workspace, w.registry, executed)
	w.report(ctx, log, executed)

	attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(executed.Status))))
	return executed.Status
}

func (w *Worker) withdraw(ctx context.Context) (*work.Work, error) {
	var lastErr error
	for _, bucket := range w.opts.Filter.Buckets {
		filter := httpctx.WithdrawFilter{
			Pipeline: bucket,
			Site:     w.opts.Filter.Site,
			Tags:     w.opts.Filter.Tags,
			Parent:   w.opts.Filter.Parent,
			Event:    w.opts.Filter.Event,
		}
		wk, err := w.buckets.Withdraw(ctx, filter)
		if err != nil {
			lastErr = err
			continue
		}
		if wk != nil {
			return wk, nil
		}
	}
	return nil, lastErr
}

// applyOverride implements spec.md §4.5.1 step 2: a static function/command
// override on the worker clears the opposite field on the withdrawn Work.
func (w *Worker) applyOverride(wk *work.Work) {
	if w.opts.Filter.Function != "" {
		wk.Function = w.opts.Filter.Function
		wk.Command = nil
	} else if len(w.opts.Filter.Command) > 0 {
		wk.Command = w.opts.Filter.Command
		wk.Function = ""
	}
}

// report implements spec.md §4.5.1 step 5: Results over the size cap are
// cleared with a logged error, Slack-style markdown links are logged for
// any archived artifacts, then a buckets.update call.
func (w *Worker) report(ctx context.Context, log *slog.Logger, wk *work.Work) {
	if size, err := wk.ResultsSize(); err == nil && validate.Size(size) {
		log.Error("results exceed size cap and were cleared", "bytes", size, "max", validate.MaxResultsBytes)
		wk.Results = nil
	}
	if wk.Notify.Slack.ChannelID != "" && (len(wk.Products) > 0 || len(wk.Plots) > 0) {
		log.Info("notify: archived artifacts",
			"channel", wk.Notify.Slack.ChannelID,
			"products", markdownLinks(wk.Products),
			"plots", markdownLinks(wk.Plots),
		)
	}
	if ok, err := w.buckets.Update(ctx, []*work.Work{wk}); err != nil || !ok {
		log.Warn("buckets update failed", "error", err, "ok", ok)
	}
}

func markdownLinks(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = fmt.Sprintf("<{product_url}%s|%s>", p, p)
	}
	return out
}

// sleepCancellable sleeps for d or returns early (false) if ctx is
// cancelled first, implementing the "wait on exit, cancellable" suspension
// point of spec.md §5.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
