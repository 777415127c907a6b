// Package executor dispatches a withdrawn Work to either its registered
// function handler or its command argv, per spec.md §4.3. It is grounded
// on the teacher's HTTPTaskExecutor/ProcessTaskExecutor split
// (services/orchestrator/task_executor.go), generalized from "http vs
// process" dispatch to "function-registry vs subprocess" dispatch.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chimefrb/workflow/internal/telemetry"
	"github.com/chimefrb/workflow/internal/validate"
	"github.com/chimefrb/workflow/internal/werrors"
	"github.com/chimefrb/workflow/internal/work"
)

// CLIIntrospectable is implemented by function handlers that expose an
// ordered parameter list with defaults, mirroring a click.Command surface
// per spec.md §4.3/§9. Executor fills in any parameter not already present
// in work.Parameters from Params(), then formats every parameter as
// "--name=value" before invoking Main.
type CLIIntrospectable interface {
	Params() []Param
	Main(args []string) (any, error)
}

// Param is one (name, default) pair of a CLIIntrospectable handler.
type Param struct {
	Name    string
	Default any
}

// Run dispatches w to its function handler or command argv and returns the
// terminal status plus normalized outcome. It never returns an error to the
// caller: any failure is captured as StatusFailure on the returned Work
// per spec.md §4.3 ("exceptions do not escape the executor").
func Run(ctx context.Context, w *work.Work) *work.Work {
	start := time.Now()
	if w.Start == 0 {
		w.Start = float64(start.Unix())
	}

	var (
		outcome validate.Outcome
		ok      bool
		err     error
	)
	switch {
	case w.Function != "":
		outcome, ok, err = runFunction(w)
	case len(w.Command) > 0:
		outcome, ok, err = runCommand(ctx, w)
	default:
		err = fmt.Errorf("%w: work has neither function nor command set", werrors.ErrResolution)
	}

	w.Stop = float64(time.Now().Unix())
	recordDuration(ctx, time.Since(start), taskKind(w), err == nil)

	if err != nil {
		w.Status = work.StatusFailure
		return w
	}
	if !ok {
		w.Status = work.StatusFailure
		return w
	}

	mergeOutcome(w, outcome)
	if w.Start != 0 && w.Timeout != 0 && float64(time.Now().Unix()) > w.Start+float64(w.Timeout) {
		w.Status = work.StatusFailure
		return w
	}
	w.Status = work.StatusSuccess
	return w
}

func taskKind(w *work.Work) string {
	if w.Function != "" {
		return "function"
	}
	return "command"
}

func recordDuration(ctx context.Context, d time.Duration, kind string, success bool) {
	meter := telemetry.Meter()
	hist, _ := meter.Float64Histogram("workflow_executor_duration_ms")
	outcome := "failure"
	if success {
		outcome = "success"
	}
	hist.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func mergeOutcome(w *work.Work, o validate.Outcome) {
	if o.Results != nil {
		if w.Results == nil {
			w.Results = map[string]any{}
		}
		for k, v := range o.Results {
			w.Results[k] = v
		}
	}
	w.Products = append(w.Products, o.Products...)
	w.Plots = append(w.Plots, o.Plots...)
}

// runFunction resolves the registered handler, applies CLI-introspection
// defaulting when the handler implements CLIIntrospectable, and invokes it.
func runFunction(w *work.Work) (validate.Outcome, bool, error) {
	h, err := validate.Function(w.Function)
	if err != nil {
		return validate.Outcome{}, false, err
	}

	switch handler := h.(type) {
	case CLIIntrospectable:
		args := formatCLIArgs(handler.Params(), w.Parameters)
		ret, err := handler.Main(args)
		if err != nil {
			return validate.Outcome{}, false, fmt.Errorf("%w: %v", werrors.ErrUserFailure, err)
		}
		out, shaped := validate.FromHandlerReturn(ret)
		return out, shaped, nil
	case validate.Handler:
		ret, err := handler(w.Parameters)
		if err != nil {
			return validate.Outcome{}, false, fmt.Errorf("%w: %v", werrors.ErrUserFailure, err)
		}
		out, shaped := validate.FromHandlerReturn(ret)
		return out, shaped, nil
	default:
		return validate.Outcome{}, false, fmt.Errorf("%w: handler for %q is neither a CLIIntrospectable nor a validate.Handler", werrors.ErrResolution, w.Function)
	}
}

// formatCLIArgs discovers parameters absent from already-set work
// parameters, assigns their declared default, and formats the full set as
// "--name=value" strings, per spec.md §4.3: declared parameters first in
// Params() order, then any other work parameters sorted by name.
func formatCLIArgs(params []Param, set map[string]any) []string {
	args := make([]string, 0, len(params)+len(set))
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
		v, present := set[p.Name]
		if !present {
			v = p.Default
		}
		args = append(args, fmt.Sprintf("--%s=%v", p.Name, v))
	}
	extra := make([]string, 0, len(set))
	for name := range set {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		args = append(args, fmt.Sprintf("--%s=%v", name, set[name]))
	}
	return args
}

// runCommand spawns the argv as a child process in its own process group so
// the whole tree can be killed on timeout, captures stdout/stderr, and
// parses the final stdout line per spec.md §4.3.
func runCommand(ctx context.Context, w *work.Work) (validate.Outcome, bool, error) {
	deadline := time.Duration(w.Timeout) * time.Second
	if deadline <= 0 {
		deadline = time.Hour
	}
	cmdCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, w.Command[0], w.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if cmdCtx.Err() != nil {
		killProcessGroup(cmd)
		return validate.Outcome{}, false, fmt.Errorf("%w: command exceeded %s", werrors.ErrTimeout, deadline)
	}

	lastLine := lastNonEmptyLine(stdout.String())
	outcome, shaped := validate.FromCommandStdout(lastLine)
	if !shaped {
		outcome = validate.Outcome{Results: map[string]any{
			"args":       w.Command,
			"stdout":     stdout.String(),
			"stderr":     stderr.String(),
			"returncode": exitCode(cmd, runErr),
		}}
	}

	if runErr != nil {
		return outcome, true, fmt.Errorf("%w: command exited with error: %v", werrors.ErrUserFailure, runErr)
	}
	return outcome, true, nil
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func exitCode(cmd *exec.Cmd, runErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}

func lastNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	last := ""
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
