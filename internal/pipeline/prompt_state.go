package pipeline

import "time"

// Warning is one resolution-time diagnostic produced while walking a
// template: a missing module reference, a circular dependency, the
// recursion depth cap, or a module script that failed. Stage Executors
// append these; the Prompt State Tracker only records them (§4.11).
// Count tracks how many times an identical (Kind, ModuleID) pair was
// raised within the turn — AddWarning collapses repeats instead of
// appending a new entry per occurrence (SPEC_FULL.md §12, mirrors
// staged_module_resolver.py's _dedupe_warnings).
type Warning struct {
	Kind     string
	ModuleID string
	Detail   string
	Count    int
}

// PromptState is C11: an optional, purely observational record of how a
// turn's system prompt evolved. It never influences a resolution
// decision — stage executors write to it, nothing ever reads it back
// mid-turn.
type PromptState struct {
	OriginalTemplate string
	Stage1Resolved   string
	Stage2Resolved   string // also serves as the main_response_prompt

	// Stage4Vars/Stage5Vars record each post-response module's output
	// bag, keyed by module id, for the stage that produced it.
	Stage4Vars map[string]map[string]any
	Stage5Vars map[string]map[string]any

	ResolvedModuleNames map[string]bool
	StagesExecuted      []Stage
	Timings             map[Stage]time.Duration
	Warnings            []Warning
}

// NewPromptState returns a tracker seeded with the original persona
// template.
func NewPromptState(originalTemplate string) *PromptState {
	return &PromptState{
		OriginalTemplate:    originalTemplate,
		Stage4Vars:          make(map[string]map[string]any),
		Stage5Vars:          make(map[string]map[string]any),
		ResolvedModuleNames: make(map[string]bool),
		Timings:             make(map[Stage]time.Duration),
	}
}

// RecordStageResolution stores the resolved prompt text and elapsed
// time for a template-resolution stage (1 or 2). Nil-safe so callers
// don't need to special-case a disabled tracker.
func (p *PromptState) RecordStageResolution(stage Stage, resolved string, elapsed time.Duration) {
	if p == nil {
		return
	}
	switch stage {
	case StageOne:
		p.Stage1Resolved = resolved
	case StageTwo:
		p.Stage2Resolved = resolved
	}
	p.recordTiming(stage, elapsed)
}

// RecordModuleState stores one post-response module's output bag under
// the stage that produced it (4 or 5).
func (p *PromptState) RecordModuleState(stage Stage, moduleID string, vars map[string]any) {
	if p == nil {
		return
	}
	switch stage {
	case StageFour:
		p.Stage4Vars[moduleID] = vars
	case StageFive:
		p.Stage5Vars[moduleID] = vars
	}
}

// MarkResolved records that name was successfully spliced into the
// prompt during resolution.
func (p *PromptState) MarkResolved(name string) {
	if p == nil {
		return
	}
	p.ResolvedModuleNames[name] = true
}

// MarkExecuted appends stage to the executed-stage list, once.
func (p *PromptState) MarkExecuted(stage Stage) {
	if p == nil {
		return
	}
	for _, s := range p.StagesExecuted {
		if s == stage {
			return
		}
	}
	p.StagesExecuted = append(p.StagesExecuted, stage)
}

// AddWarning records one diagnostic, collapsing a repeat of the same
// (Kind, ModuleID) pair already in the log into that entry's Count
// rather than appending a duplicate row.
func (p *PromptState) AddWarning(w Warning) {
	if p == nil {
		return
	}
	if w.Count == 0 {
		w.Count = 1
	}
	for i := range p.Warnings {
		if p.Warnings[i].Kind == w.Kind && p.Warnings[i].ModuleID == w.ModuleID {
			p.Warnings[i].Count += w.Count
			observeWarning(w.Kind)
			return
		}
	}
	p.Warnings = append(p.Warnings, w)
	observeWarning(w.Kind)
}

func (p *PromptState) recordTiming(stage Stage, elapsed time.Duration) {
	if p.Timings == nil {
		p.Timings = make(map[Stage]time.Duration)
	}
	p.Timings[stage] += elapsed
	observeStageTiming(stage, elapsed)
}
