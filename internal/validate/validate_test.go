package validate

import "testing"

func TestRegisterAndResolveFunction(t *testing.T) {
	Register("demo.echo", func(params map[string]any) (any, error) {
		return params, nil
	})
	resolved, err := Function("demo.echo")
	if err != nil {
		t.Fatal(err)
	}
	h, ok := resolved.(Handler)
	if !ok {
		t.Fatalf("resolved value is not a Handler: %T", resolved)
	}
	out, err := h(map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["x"] != 1 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFunctionUnresolved(t *testing.T) {
	if _, err := Function("nope.missing"); err == nil {
		t.Fatal("expected resolution error")
	}
}

func TestCommandLookup(t *testing.T) {
	if !Command("echo") {
		t.Fatal("expected echo to be on PATH")
	}
	if Command("definitely-not-a-real-binary-xyz") {
		t.Fatal("expected lookup failure")
	}
}

func TestFromHandlerReturnShapes(t *testing.T) {
	if out, ok := FromHandlerReturn(nil); !ok || out.Results != nil {
		t.Fatalf("nil case: %+v %v", out, ok)
	}
	if out, ok := FromHandlerReturn(map[string]any{"a": 1}); !ok || out.Results["a"] != 1 {
		t.Fatalf("map case: %+v %v", out, ok)
	}
	if out, ok := FromHandlerReturn(Outcome3{Results: map[string]any{"a": 1}, Products: []string{"p"}}); !ok || len(out.Products) != 1 {
		t.Fatalf("triple case: %+v %v", out, ok)
	}
	if _, ok := FromHandlerReturn(42); ok {
		t.Fatal("expected unrecognized shape to be discarded")
	}
}

func TestFromCommandStdout(t *testing.T) {
	out, ok := FromCommandStdout(`{"a":1}`)
	if !ok || out.Results["a"].(float64) != 1 {
		t.Fatalf("object case: %+v %v", out, ok)
	}

	out, ok = FromCommandStdout(`[{"a":1},["p1"],["plot1"]]`)
	if !ok || len(out.Products) != 1 || len(out.Plots) != 1 {
		t.Fatalf("triple case: %+v %v", out, ok)
	}

	out, ok = FromCommandStdout("")
	if ok || out.Results != nil {
		t.Fatalf("empty case: %+v %v", out, ok)
	}

	_, ok = FromCommandStdout("not json at all")
	if ok {
		t.Fatal("expected unparseable stdout to be discarded")
	}
}

func TestSizeCap(t *testing.T) {
	if Size(100) {
		t.Fatal("100 bytes should be under cap")
	}
	if !Size(MaxResultsBytes + 1) {
		t.Fatal("expected over-cap to report true")
	}
}
