// Package pipeline implements the Staged Module Resolution Pipeline:
// the five Stage Executors (C8) and the Pipeline Orchestrator (C9) that
// sequences them, plus the Prompt State Tracker (C11) they optionally
// report into.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/plugins"
	"github.com/mdcslabs/conduit/internal/sandbox"
	"github.com/mdcslabs/conduit/internal/template"
	"github.com/mdcslabs/conduit/pkg/models"
)

// Stage identifies one of the five stage executors (§4.8).
type Stage int

const (
	StageOne Stage = iota + 1
	StageTwo
	StageThree
	StageFour
	StageFive
)

func (s Stage) String() string {
	switch s {
	case StageOne:
		return "stage1"
	case StageTwo:
		return "stage2"
	case StageThree:
		return "stage3"
	case StageFour:
		return "stage4"
	case StageFive:
		return "stage5"
	default:
		return "stage?"
	}
}

// maxResolutionDepth is the hard recursion cap §4.8 names: exceeding it
// emits max_depth_exceeded and halts further descent.
const maxResolutionDepth = 10

// ModuleStore is what the Stage Executors need from persistence: every
// module belonging to a persona, addressable by name. A store may return
// inactive modules (MemoryStore does); the Pipeline Orchestrator drops
// them before building the executors' module set.
type ModuleStore interface {
	ModulesByPersona(ctx context.Context, personaID string) ([]models.Module, error)
}

// StateStore is the subset of C10 the Stage Executors read and write
// directly: the latest stored output bag for a (conversation, module)
// pair, and the upsert a successful post-response module triggers.
type StateStore interface {
	GetLatestState(ctx context.Context, conversationID, moduleID string) (map[string]any, error)
	UpsertState(ctx context.Context, conversationID, moduleID string, stage models.ExecutionStage, variables map[string]any, meta models.ExecutionMetadata) error
}

// Runner is what a Stage Executor needs to execute one module's script;
// internal/sandbox.Sandbox satisfies it.
type Runner interface {
	Execute(ctx context.Context, src string, capCtx *sandbox.Ctx) (*sandbox.Result, []sandbox.Warning, error)
}

// Executor is the shared base §4.8 describes: one instance serves every
// stage, parameterized by which stage is currently running.
type Executor struct {
	Sandbox Runner
	Plugins *plugins.Registry
	Store   StateStore
}

// NewExecutor wires a Sandbox, Plugin Registry, and State Store into a
// ready-to-use Executor.
func NewExecutor(runner Runner, registry *plugins.Registry, store StateStore) *Executor {
	return &Executor{Sandbox: runner, Plugins: registry, Store: store}
}

// turnState is the mutable working state threaded through one stage's
// resolution pass: resolution stack (circular-dependency + reflection
// depth), accumulated warnings, and the tracker to report into.
type turnState struct {
	conversationID   string
	personaID        string
	providerSettings map[string]any
	token            *cancel.Token
	triggerMessage   string
	lastAIMessage    string
	moduleSet        map[string]*models.Module
	stack            []string
	tracker          *PromptState
}

func (st *turnState) onStack(name string) bool {
	for _, n := range st.stack {
		if n == name {
			return true
		}
	}
	return false
}

// moduleEligibleForStage reports whether m should be substituted during
// stage's resolution pass per the §4.8 filter table, and whether m is
// the special post_response-module-referenced-from-stage-1 case (which
// is substituted from stored state rather than executed).
func moduleEligibleForStage(m *models.Module, stage Stage) (eligible, specialStoredState bool) {
	switch {
	case m.Kind == models.ModuleKindSimple:
		return stage == StageOne, false
	case m.Context == models.ExecutionPostResponse:
		return false, stage == StageOne
	case m.Context == models.ExecutionImmediate:
		if stage == StageOne {
			return !m.RequiresAI, false
		}
		if stage == StageTwo {
			return m.RequiresAI, false
		}
		return false, false
	default:
		return false, false
	}
}

// ResolveTemplate runs stage's resolution pass over tmpl: every `@name`
// reference whose module is eligible for this stage (see
// moduleEligibleForStage) is replaced by that module's processed
// output; references to modules that belong to a different stage are
// left untouched so a later stage's pass can resolve them; references
// to modules that don't exist at all are left as `@name` with a
// missing_module warning (§4.4).
func (e *Executor) ResolveTemplate(ctx context.Context, stage Stage, tmpl string, st *turnState) (string, error) {
	start := time.Now()
	result, err := e.resolveInto(ctx, stage, tmpl, st)
	st.tracker.RecordStageResolution(stage, result, time.Since(start))
	st.tracker.MarkExecuted(stage)
	return result, err
}

func (e *Executor) resolveInto(ctx context.Context, stage Stage, tmpl string, st *turnState) (string, error) {
	if err := st.token.Check(); err != nil {
		return "", err
	}

	refs := template.ExtractModuleRefs(tmpl)
	result := tmpl
	for _, name := range refs {
		if len(st.stack) >= maxResolutionDepth {
			st.tracker.AddWarning(Warning{Kind: "max_depth_exceeded", ModuleID: name})
			break
		}
		if st.onStack(name) {
			st.tracker.AddWarning(Warning{Kind: "circular_dependency", ModuleID: name})
			continue
		}
		mod, ok := st.moduleSet[name]
		if !ok {
			st.tracker.AddWarning(Warning{Kind: "missing_module", ModuleID: name})
			continue
		}

		eligible, specialStoredState := moduleEligibleForStage(mod, stage)
		if specialStoredState {
			vars, _ := e.Store.GetLatestState(ctx, st.conversationID, mod.ID)
			resolved := template.SubstituteVars(mod.Content, vars)
			result = template.ReplaceModule(result, name, resolved)
			st.tracker.MarkResolved(name)
			continue
		}
		if !eligible {
			continue
		}

		st.stack = append(st.stack, name)
		resolved, err := e.processModule(ctx, stage, mod, st)
		st.stack = st.stack[:len(st.stack)-1]
		if err != nil {
			return "", err
		}
		result = template.ReplaceModule(result, name, resolved)
		st.tracker.MarkResolved(name)
	}

	return template.FinalizeEscapes(result), nil
}

// processModule implements §4.8's process_module: a simple module
// recursively resolves nested `@` references in the same stage and
// returns its content verbatim otherwise; an advanced module checks its
// trigger pattern, executes its script in the sandbox, and substitutes
// `${var}` placeholders from the script's output bag.
func (e *Executor) processModule(ctx context.Context, stage Stage, mod *models.Module, st *turnState) (string, error) {
	if err := st.token.Check(); err != nil {
		return "", err
	}

	if mod.Kind == models.ModuleKindSimple {
		return e.resolveInto(ctx, stage, mod.Content, st)
	}

	if mod.Trigger != "" && !MatchesTrigger(mod.Trigger, st.triggerMessage) {
		return mod.Content, nil
	}

	nestedContent, err := e.resolveInto(ctx, stage, mod.Content, st)
	if err != nil {
		return "", err
	}

	outputs, execErr := e.runScript(ctx, mod, st)
	if execErr != nil {
		st.tracker.AddWarning(Warning{Kind: "script_error", ModuleID: mod.ID, Detail: execErr.Error()})
		outputs = map[string]any{}
	}
	return template.SubstituteVars(nestedContent, outputs), nil
}

// runScript executes mod.Script in the sandbox with a freshly bound
// capability object: reflection depth mirrors the current resolution
// stack length, every registered plugin is exposed on `ctx`, and
// db_session/script_context injection happens inside the Plugin
// Registry's own Lookup, not here (§4.5, §4.6).
func (e *Executor) runScript(ctx context.Context, mod *models.Module, st *turnState) (map[string]any, error) {
	if mod.Script == "" {
		return map[string]any{}, nil
	}

	capCtx := &sandbox.Ctx{
		ConversationID:   st.conversationID,
		PersonaID:        st.personaID,
		ProviderSettings: st.providerSettings,
		LastAIMessage:    st.lastAIMessage,
		Vars:             sandbox.NewVarBag(nil),
		ReflectionDepth:  len(st.stack) - 1,
		ResolutionStack:  append([]string(nil), st.stack...),
		Plugins:          map[string]func(args map[string]any) (any, error){},
	}
	if e.Plugins != nil {
		db, _ := e.Store.(plugins.DBSession)
		for _, name := range e.Plugins.Names() {
			if bound, ok := e.Plugins.LookupContext(ctx, name, db, capCtx); ok {
				capCtx.Plugins[name] = bound
			}
		}
	}

	result, warnings, err := e.Sandbox.Execute(ctx, mod.Script, capCtx)
	for _, w := range warnings {
		st.tracker.AddWarning(Warning{Kind: "sandbox_warning", ModuleID: mod.ID, Detail: w.Message})
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: module %s: %w", mod.Name, err)
	}
	if result.DeadlineExceeded {
		return nil, fmt.Errorf("pipeline: module %s: script exceeded the sandbox deadline (took %s)", mod.Name, result.Duration)
	}
	return result.Output, nil
}

// RunPostResponse implements Stage 4/5: each active post_response module
// eligible for stage (by its requires-AI flag) has its trigger checked
// against st.triggerMessage (the turn's last user message, never the AI
// reply — §4.8), runs its script, and — on success — has its
// output bag upserted into the State Store under (conversation, module,
// stage). Failures are logged (via the tracker), never surfaced or
// aborting the rest of the batch (§4.9 step 7).
func (e *Executor) RunPostResponse(ctx context.Context, stage Stage, st *turnState) error {
	executionStage := models.Stage4
	if stage == StageFive {
		executionStage = models.Stage5
	}

	st.tracker.MarkExecuted(stage)
	for _, mod := range st.moduleSet {
		if err := st.token.Check(); err != nil {
			return err
		}
		if mod.Kind != models.ModuleKindAdvanced || mod.Context != models.ExecutionPostResponse {
			continue
		}
		eligible := (stage == StageFour && !mod.RequiresAI) || (stage == StageFive && mod.RequiresAI)
		if !eligible {
			continue
		}
		if mod.Trigger != "" && !MatchesTrigger(mod.Trigger, st.triggerMessage) {
			continue
		}

		start := time.Now()
		outputs, err := e.runScript(ctx, mod, st)
		meta := models.ExecutionMetadata{Success: err == nil, Duration: time.Since(start)}
		if err != nil {
			meta.Error = err.Error()
			st.tracker.AddWarning(Warning{Kind: "post_response_failed", ModuleID: mod.ID, Detail: err.Error()})
			continue
		}
		if upsertErr := e.Store.UpsertState(ctx, st.conversationID, mod.ID, executionStage, outputs, meta); upsertErr != nil {
			st.tracker.AddWarning(Warning{Kind: "post_response_store_failed", ModuleID: mod.ID, Detail: upsertErr.Error()})
			continue
		}
		st.tracker.RecordModuleState(stage, mod.ID, outputs)
	}
	return nil
}
