package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/chimefrb/workflow/internal/validate"
	"github.com/chimefrb/workflow/internal/work"
)

func TestRunFunctionSuccess(t *testing.T) {
	validate.Register("executor-test.ok", func(params map[string]any) (any, error) {
		return map[string]any{"answer": 42}, nil
	})
	w, err := work.New("executor-test", "chime", "tester", work.WithFunction("executor-test.ok"))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Results["answer"] != 42 {
		t.Fatalf("results = %v", got.Results)
	}
	if got.Stop < got.Start {
		t.Fatalf("stop %v before start %v", got.Stop, got.Start)
	}
}

func TestRunFunctionUserFailure(t *testing.T) {
	validate.Register("executor-test.fail", func(params map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	w, err := work.New("executor-test", "chime", "tester", work.WithFunction("executor-test.fail"))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusFailure {
		t.Fatalf("status = %s, want failure", got.Status)
	}
}

func TestRunFunctionUnresolved(t *testing.T) {
	w, err := work.New("executor-test", "chime", "tester", work.WithFunction("executor-test.nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusFailure {
		t.Fatalf("status = %s, want failure", got.Status)
	}
}

func TestRunCommandSuccess(t *testing.T) {
	w, err := work.New("executor-test", "chime", "tester", work.WithCommand([]string{"echo", `{"ok":true}`}))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Results["ok"] != true {
		t.Fatalf("results = %v", got.Results)
	}
}

func TestRunCommandNonJSONStdoutSynthesizesResults(t *testing.T) {
	w, err := work.New("executor-test", "chime", "tester", work.WithCommand([]string{"echo", "plain text"}))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Results["stdout"] == nil {
		t.Fatalf("expected synthesized stdout key, got %v", got.Results)
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	w, err := work.New("executor-test", "chime", "tester", work.WithCommand([]string{"sh", "-c", "exit 1"}))
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusFailure {
		t.Fatalf("status = %s, want failure", got.Status)
	}
}

type fakeCLIHandler struct {
	gotArgs []string
}

func (f *fakeCLIHandler) Params() []Param {
	return []Param{{Name: "a", Default: 1}, {Name: "b", Default: "x"}}
}

func (f *fakeCLIHandler) Main(args []string) (any, error) {
	f.gotArgs = args
	return map[string]any{"invoked": true}, nil
}

func TestRunFunctionCLIIntrospectableDefaultsApplied(t *testing.T) {
	handler := &fakeCLIHandler{}
	validate.RegisterCLI("executor-test.cli", handler)
	w, err := work.New("executor-test", "chime", "tester",
		work.WithFunction("executor-test.cli"),
		work.WithParameters(map[string]any{"a": 99}),
	)
	if err != nil {
		t.Fatal(err)
	}
	got := Run(context.Background(), w)
	if got.Status != work.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if len(handler.gotArgs) != 2 || handler.gotArgs[0] != "--a=99" || handler.gotArgs[1] != "--b=x" {
		t.Fatalf("gotArgs = %v", handler.gotArgs)
	}
}

func TestFormatCLIArgsFillsDefaults(t *testing.T) {
	params := []Param{{Name: "a", Default: 1}, {Name: "b", Default: "x"}}
	args := formatCLIArgs(params, map[string]any{"a": 99})
	if args[0] != "--a=99" || args[1] != "--b=x" {
		t.Fatalf("args = %v", args)
	}
}
