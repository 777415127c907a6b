package work

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/chimefrb/workflow/internal/werrors"
)

func TestNewAppliesDefaults(t *testing.T) {
	w, err := New("Demo Pipeline", "local", "tester", WithFunction("pkg.mean"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Pipeline != "demo-pipeline" {
		t.Fatalf("pipeline = %q, want demo-pipeline", w.Pipeline)
	}
	if w.Timeout != 3600 || w.Retries != 2 || w.Priority != 3 {
		t.Fatalf("unexpected defaults: %+v", w)
	}
	if w.Status != StatusCreated {
		t.Fatalf("status = %q, want created", w.Status)
	}
	if w.Creation == 0 {
		t.Fatal("creation should be stamped")
	}
}

func TestFunctionXorCommand(t *testing.T) {
	_, err := New("demo", "local", "tester", WithFunction("pkg.fn"), WithCommand([]string{"echo"}))
	if !errors.Is(err, werrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = New("demo", "local", "tester")
	if !errors.Is(err, werrors.ErrValidation) {
		t.Fatalf("expected validation error for neither set, got %v", err)
	}
}

func TestInvalidSite(t *testing.T) {
	_, err := New("demo", "mars", "tester", WithFunction("pkg.fn"))
	if !errors.Is(err, werrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTimeoutRetriesPriorityBounds(t *testing.T) {
	cases := []Option{
		WithTimeout(0),
		WithTimeout(86401),
		WithRetries(6),
		WithRetries(-1),
		WithPriority(0),
		WithPriority(6),
	}
	for _, opt := range cases {
		_, err := New("demo", "local", "tester", WithFunction("pkg.fn"), opt)
		if !errors.Is(err, werrors.ErrValidation) {
			t.Fatalf("expected validation error for option, got %v", err)
		}
	}
}

func TestSiteAliasRewritten(t *testing.T) {
	w, err := New("demo", "allenby", "tester", WithFunction("pkg.fn"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Site != "kko" {
		t.Fatalf("site = %q, want kko", w.Site)
	}
}

func TestTagsDeduplicated(t *testing.T) {
	w, err := New("demo", "local", "tester", WithFunction("pkg.fn"), WithTags("a", "b", "a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.Tags) != 2 {
		t.Fatalf("tags = %v, want 2 unique entries", w.Tags)
	}
}

func TestRoundTripJSON(t *testing.T) {
	w, err := New("demo", "local", "tester", WithFunction("pkg.fn"), WithParameters(map[string]any{"a": float64(1)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := w.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want, _ := json.Marshal(w)
	gotJSON, _ := json.Marshal(got)
	if string(want) != string(gotJSON) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %s", want, gotJSON)
	}
}

func TestDeprecatedFieldsCleared(t *testing.T) {
	legacy := true
	raw, _ := json.Marshal(map[string]any{
		"pipeline": "demo",
		"site":     "local",
		"user":     "tester",
		"function": "pkg.fn",
		"archive":  legacy,
		"path":     "/tmp/x",
		"group":    "frb-ops",
	})
	w, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.LegacyFlag != nil || w.Path != "" || w.Group != "" {
		t.Fatalf("deprecated fields not cleared: %+v", w)
	}
}

func TestResultsSizeCap(t *testing.T) {
	w, err := New("demo", "local", "tester", WithFunction("pkg.fn"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	big := make([]byte, MaxResultsBytes+1)
	w.Results = map[string]any{"blob": string(big)}
	size, err := w.ResultsSize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size <= MaxResultsBytes {
		t.Fatalf("expected size over cap, got %d", size)
	}
}
