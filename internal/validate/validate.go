// Package validate resolves function references, checks command
// availability, and normalizes an executed Work's outcome shape, per
// spec.md §4.2. It is grounded on the teacher's plugin-registry lookup
// (services/orchestrator/plugins.go) generalized from a plugin-name table
// to a dotted-path function-handler table.
package validate

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/chimefrb/workflow/internal/werrors"
)

// Handler is a registered function handler. Go has no reflective import of
// arbitrary dotted paths, so spec.md §9's redesign note applies: the worker
// process registers its available handlers up front and Function resolves
// into that table instead of importing a module at runtime.
type Handler func(parameters map[string]any) (any, error)

// registry holds either a Handler or a value implementing
// executor.CLIIntrospectable; only an interface, not a concrete func type,
// can satisfy the latter, so the table stores `any` and the executor
// type-switches on what it gets back.
var (
	registryMu sync.RWMutex
	registry   = map[string]any{}
)

// Register adds a plain function handler under a dotted path, e.g.
// "mypipeline.run". It is called from a worker's init() or main() before
// the lifecycle starts withdrawing Work.
func Register(path string, h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[path] = h
}

// RegisterCLI adds a handler that exposes a CLI-command introspection
// surface (spec.md §4.3/§9): an ordered parameter list with defaults,
// consulted by the executor before invocation.
func RegisterCLI(path string, h any) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[path] = h
}

// Function resolves a dotted path into its registered handler value. It
// fails with ErrResolution if the path was never registered, mirroring the
// source behavior of failing when the module or attribute can't be found.
// The caller type-switches the result to Handler or a CLI-introspectable
// handler.
func Function(path string) (any, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[path]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %q", werrors.ErrResolution, path)
	}
	return h, nil
}

// Command reports whether arg0 is an executable reachable on PATH.
func Command(arg0 string) bool {
	_, err := exec.LookPath(arg0)
	return err == nil
}

// Outcome is the normalized (results, products, plots) triple a handler or
// command may return, per spec.md §4.2.
type Outcome struct {
	Results  map[string]any
	Products []string
	Plots    []string
}

// Outcome3 is the shape a handler may return directly instead of a bare
// map: (results, products, plots).
type Outcome3 struct {
	Results  map[string]any
	Products []string
	Plots    []string
}

// FromHandlerReturn normalizes whatever a Handler returned into an Outcome.
// Accepted shapes: nil, a map[string]any (treated as results), or an
// Outcome3. Anything else is discarded; callers should log it.
func FromHandlerReturn(v any) (Outcome, bool) {
	switch t := v.(type) {
	case nil:
		return Outcome{}, true
	case map[string]any:
		return Outcome{Results: t}, true
	case Outcome3:
		return Outcome{Results: t.Results, Products: t.Products, Plots: t.Plots}, true
	default:
		return Outcome{}, false
	}
}

// FromCommandStdout normalizes the final line of a subprocess's stdout, per
// spec.md §4.3: a JSON object is treated as results, a 3-element JSON array
// is treated as [results, products, plots], anything else (including an
// empty line) is discarded.
func FromCommandStdout(lastLine string) (Outcome, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(lastLine), &obj); err == nil {
		return Outcome{Results: obj}, true
	}

	var triple []json.RawMessage
	if err := json.Unmarshal([]byte(lastLine), &triple); err == nil && len(triple) == 3 {
		out := Outcome{}
		if err := json.Unmarshal(triple[0], &out.Results); err != nil {
			return Outcome{}, false
		}
		if err := json.Unmarshal(triple[1], &out.Products); err != nil {
			return Outcome{}, false
		}
		if err := json.Unmarshal(triple[2], &out.Plots); err != nil {
			return Outcome{}, false
		}
		return out, true
	}

	return Outcome{}, false
}

// MaxResultsBytes mirrors work.MaxResultsBytes; duplicated here (rather than
// imported) to keep validate free of a dependency on the work package, since
// Size operates on an already-serialized size in bytes.
const MaxResultsBytes = 4 << 20

// Size reports whether a serialized results size exceeds MaxResultsBytes.
// Callers (the lifecycle's report step) clear Work.Results and log an error
// when Size returns true; Size itself never fails the work, per spec.md §4.2.
func Size(serializedBytes int) bool {
	return serializedBytes > MaxResultsBytes
}
