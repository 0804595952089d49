// Package sandbox implements the Script Sandbox (C5): restricted
// execution of a module's `script` field, with a capability-injected
// `ctx` object, a soft wall-clock deadline, and output-variable-bag
// extraction (§4.5).
//
// The original implementation sandboxes Python via RestrictedPython's
// compile_restricted_exec plus a hand-picked SAFE_BUILTINS table and an
// ALLOWED_MODULES allow-list. There is no Python interpreter in this
// stack, so scripts here are restricted Go source interpreted by
// traefik/yaegi: the interpreter is handed a symbol table that only
// registers the packages the original allow-listed (an analogous
// ALLOWED_MODULES, enforced by absence rather than by string-scanning
// import statements), and anything the script tries to import outside
// that table fails to resolve at Eval time instead of at a pre-flight
// scan.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultTimeout mirrors the original's DEFAULT_TIMEOUT of 30 seconds.
const DefaultTimeout = 30 * time.Second

// Warning is a non-fatal diagnostic surfaced to the Prompt State Tracker
// (C11), e.g. an output value that could not be JSON-encoded.
type Warning struct {
	Message string
}

// Result is what a script execution produces: the output variable bag
// extracted per §4.5 point 3, plus whether the soft deadline had already
// elapsed when execution returned.
type Result struct {
	Output        map[string]any
	DeadlineExceeded bool
	Duration      time.Duration
}

// Config controls which standard-library packages a script may import.
// The zero value allows nothing; use DefaultConfig for the package set
// the original's ALLOWED_MODULES names an equivalent for.
type Config struct {
	// AllowedPackages is the set of import paths the interpreter's
	// symbol table exposes. A script importing anything else fails to
	// resolve that identifier at Eval time.
	AllowedPackages map[string]bool
	Timeout         time.Duration
}

// DefaultConfig mirrors the original's ALLOWED_MODULES = {'datetime',
// 'math', 'json', 're', 'uuid', 'random', 'time'} by Go-stdlib analogue,
// and also allows strings and strconv.
func DefaultConfig() Config {
	return Config{
		AllowedPackages: map[string]bool{
			"time":            true,
			"math":            true,
			"encoding/json":   true,
			"regexp":          true,
			"strings":         true,
			"strconv":         true,
			"github.com/google/uuid": true,
			"math/rand":       true,
		},
		Timeout: DefaultTimeout,
	}
}

// Sandbox runs module scripts under a fixed Config.
type Sandbox struct {
	cfg Config
}

// New returns a Sandbox configured with cfg.
func New(cfg Config) *Sandbox {
	return &Sandbox{cfg: cfg}
}

// Execute runs src with ctx bound as the global `ctx` identifier,
// returning the extracted output bag. It enforces:
//  1. a restricted symbol table (only cfg.AllowedPackages are usable);
//  2. an underscore-attribute-access source guard (extract.go);
//  3. capability injection of ctx;
//  4. output-variable-bag extraction: after Eval, each name TopLevelNames
//     found in the source is looked up in the interpreter; names it
//     cannot resolve and function values are left out;
//  5. a soft deadline, checked only after Eval returns and reported in
//     Result.DeadlineExceeded (cooperative, not preemptive — matching
//     the cancellation substrate's own cooperative model rather than
//     killing the interpreter mid-step).
func (s *Sandbox) Execute(parent context.Context, src string, capCtx *Ctx) (*Result, []Warning, error) {
	if HasUnderscoreAccess(src) {
		return nil, nil, fmt.Errorf("sandbox: script accesses an underscore-prefixed identifier")
	}

	names, parseErr := TopLevelNames(src)
	// A parse failure here does not block execution: the script may
	// still be valid yaegi REPL source that go/parser's synthetic
	// wrapping can't model. It just means no output names are known in
	// advance, so the output bag will be empty.
	_ = parseErr

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	i := interp.New(interp.Options{})
	if err := i.Use(restrictedSymbols(s.cfg.AllowedPackages)); err != nil {
		return nil, nil, fmt.Errorf("sandbox: building symbol table: %w", err)
	}
	if s.cfg.AllowedPackages["github.com/google/uuid"] {
		if err := i.Use(uuidSymbols()); err != nil {
			return nil, nil, fmt.Errorf("sandbox: registering uuid symbols: %w", err)
		}
	}
	if err := i.Use(injectedCtx(capCtx)); err != nil {
		return nil, nil, fmt.Errorf("sandbox: injecting ctx: %w", err)
	}
	if _, err := i.Eval(`import "sandboxctx"`); err != nil {
		return nil, nil, fmt.Errorf("sandbox: binding ctx import: %w", err)
	}
	if _, err := i.Eval(`ctx := sandboxctx.Ctx`); err != nil {
		return nil, nil, fmt.Errorf("sandbox: binding ctx identifier: %w", err)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := i.Eval(src)
		done <- err
	}()

	var execErr error
	select {
	case execErr = <-done:
	case <-parent.Done():
		// Cooperative cancellation: the interpreter goroutine is not
		// forcibly killed (yaegi has no preemption hook); we stop
		// waiting and report the parent's cancellation. The goroutine
		// above is left to finish on its own, matching the substrate's
		// "cancellation changes state, doesn't interrupt control flow"
		// contract (§3.1).
		return nil, nil, parent.Err()
	}
	duration := time.Since(start)
	deadlineExceeded := duration > timeout

	if execErr != nil {
		return nil, nil, fmt.Errorf("sandbox: script error: %w", execErr)
	}

	output := make(map[string]any, len(names))
	var warnings []Warning
	for _, name := range names {
		v, err := i.Eval(name)
		if err != nil || v.Kind() == reflect.Func {
			continue
		}
		val := v.Interface()
		if _, err := json.Marshal(val); err != nil {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("output %q is not JSON-representable: %v", name, err)})
			output[name] = fmt.Sprintf("%v", val)
			continue
		}
		output[name] = val
	}

	return &Result{
		Output:           output,
		DeadlineExceeded: deadlineExceeded,
		Duration:         duration,
	}, warnings, nil
}

// uuidSymbols exposes the subset of github.com/google/uuid the original
// ALLOWED_MODULES entry for 'uuid' covers: generating and parsing IDs.
// Unlike the stdlib table, there is no generated symbol set to filter,
// so the bindings are listed by hand against the package actually
// imported above.
func uuidSymbols() interp.Exports {
	return interp.Exports{
		"github.com/google/uuid/uuid": {
			"New":       reflect.ValueOf(uuid.New),
			"NewString": reflect.ValueOf(uuid.NewString),
			"Parse":     reflect.ValueOf(uuid.Parse),
		},
	}
}

// injectedCtx builds a one-off yaegi symbol table exposing capCtx as a
// package-level variable, the standard yaegi pattern for handing a host
// Go value to interpreted code: the script imports the synthetic
// package and binds a local name to the exported variable, rather than
// the interpreter exposing any notion of a "global".
func injectedCtx(capCtx *Ctx) interp.Exports {
	return interp.Exports{
		"sandboxctx/sandboxctx": {
			"Ctx": reflect.ValueOf(capCtx),
		},
	}
}

// restrictedSymbols builds a yaegi Exports table containing only the
// stdlib packages named in allowed, by filtering stdlib.Symbols rather
// than hand-maintaining a parallel symbol table.
func restrictedSymbols(allowed map[string]bool) interp.Exports {
	out := make(interp.Exports, len(allowed))
	for path, syms := range stdlib.Symbols {
		// stdlib.Symbols keys are "path/name" (e.g. "time/time"); the
		// import path is everything before the final slash.
		base := importPathOf(path)
		if allowed[base] {
			out[path] = syms
		}
	}
	return out
}

// importPathOf extracts the package import path from a yaegi
// stdlib.Symbols key of the form "<import/path>/<package-name>".
func importPathOf(symbolsKey string) string {
	idx := lastSlash(symbolsKey)
	if idx < 0 {
		return symbolsKey
	}
	return symbolsKey[:idx]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
