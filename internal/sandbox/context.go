package sandbox

import (
	"fmt"
	"time"
)

// VarBag is the mutable variable bag a script reads and writes through
// `ctx.Vars`. It backs both the immediate-stage scratch variables and the
// values a module publishes for later stages to consume (§4.3, §4.5).
type VarBag struct {
	values map[string]any
}

// NewVarBag returns a bag seeded with initial, which may be nil.
func NewVarBag(initial map[string]any) *VarBag {
	b := &VarBag{values: make(map[string]any, len(initial))}
	for k, v := range initial {
		b.values[k] = v
	}
	return b
}

// Get returns the value bound to name, or nil if unbound.
func (b *VarBag) Get(name string) any {
	return b.values[name]
}

// Set binds name to value.
func (b *VarBag) Set(name string, value any) {
	b.values[name] = value
}

// Snapshot returns a shallow copy of the bag's contents. Output
// extraction in Execute does not use it.
func (b *VarBag) Snapshot() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Ctx is the capability object injected into a script as the global
// `ctx` binding. It carries the conversation/persona identity scripts may
// read, the variable bag, the bound plugin table, and the reflection
// depth guard plugins consult before re-entering the resolver (§4.5,
// §4.6, §5 Reflection-safety).
type Ctx struct {
	ConversationID   string
	PersonaID        string
	ProviderSettings map[string]any
	Vars             *VarBag

	// LastAIMessage is the accumulated reply from the turn's provider
	// stream, available to post-response scripts (§4.9's
	// `last_ai_message` trigger-context extension). Empty for Stage 1/2
	// scripts, which run before a reply exists.
	LastAIMessage string

	// Plugins maps a registered plugin name to its already-bound call
	// wrapper (db_session/script_context already injected by the
	// Plugin Registry before the sandbox ever sees it).
	Plugins map[string]func(args map[string]any) (any, error)

	// ReflectionDepth is how many resolver re-entries this execution is
	// already nested inside. ResolutionStack names the module chain that
	// produced that depth, for error messages.
	ReflectionDepth int
	ResolutionStack []string

	// ReflectionChain is a bounded audit trail of reflection entries,
	// capped at MaxReflectionChainLength, for diagnostics.
	ReflectionChain []ReflectionEntry
}

// ReflectionEntry records one nested resolver re-entry for the audit
// trail surfaced through the Prompt State Tracker.
type ReflectionEntry struct {
	ModuleID     string
	Instructions string
	Timestamp    time.Time
	Depth        int
}

// ConversationIDValue and PersonaIDValue satisfy plugins.ScriptContext.
func (c *Ctx) ConversationIDValue() string { return c.ConversationID }
func (c *Ctx) PersonaIDValue() string      { return c.PersonaID }

// MaxReflectionDepth is the hard cap on nested resolver re-entry a plugin
// may trigger (e.g. a plugin that itself resolves another module). §5
// calls for a small fixed limit rather than unbounded recursion.
const MaxReflectionDepth = 3

// MaxReflectionChainLength bounds the audit trail kept in
// ReflectionChain so a pathological script can't grow it unbounded.
const MaxReflectionChainLength = 10

// CanReflect reports whether moduleID may re-enter the resolver from
// this context at the given execution timing ("immediate" or
// "post_response"). A module may reflect during its own execution at
// depth 0, but a reflection that would loop back into a module already
// on the resolution stack, exceed MaxReflectionDepth, or nest a second
// immediate-context reflection is refused.
func (c *Ctx) CanReflect(moduleID string, timing string) bool {
	if moduleID == "" {
		return false
	}
	if c.ReflectionDepth >= MaxReflectionDepth {
		return false
	}
	if c.ReflectionDepth > 0 {
		for _, m := range c.ResolutionStack {
			if m == moduleID {
				return false
			}
		}
	}
	if timing == "immediate" && c.ReflectionDepth > 0 {
		return false
	}
	return true
}

// EnterReflection increments the reflection depth and appends an audit
// entry, trimming ReflectionChain to MaxReflectionChainLength.
func (c *Ctx) EnterReflection(moduleID, instructions string, now time.Time) {
	c.ReflectionDepth++
	c.ReflectionChain = append(c.ReflectionChain, ReflectionEntry{
		ModuleID:     moduleID,
		Instructions: instructions,
		Timestamp:    now,
		Depth:        c.ReflectionDepth,
	})
	if len(c.ReflectionChain) > MaxReflectionChainLength {
		c.ReflectionChain = c.ReflectionChain[len(c.ReflectionChain)-MaxReflectionChainLength:]
	}
}

// ExitReflection decrements the reflection depth, never below zero.
func (c *Ctx) ExitReflection() {
	if c.ReflectionDepth > 0 {
		c.ReflectionDepth--
	}
}

// Call invokes a registered plugin by name with args; script code calls
// it as `ctx.Call(name, args)`.
func (c *Ctx) Call(name string, args map[string]any) (any, error) {
	fn, ok := c.Plugins[name]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown plugin %q", name)
	}
	return fn(args)
}
