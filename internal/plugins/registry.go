// Package plugins implements the Plugin Registry (C6): a process-global
// name -> capability-function map that scripts reach through
// `ctx.Call(name, args)` (the sandbox.Ctx Plugins map); plugins are not
// exposed as fields or methods of `ctx`. Registered functions may declare trailing
// `db_session`/`script_context`-shaped parameters; the registry's call
// wrapper fills those in automatically via reflection so the script never
// writes them (§4.6).
package plugins

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/mdcslabs/conduit/pkg/models"
)

// DBSession is the persistence handle plugins use to read or mutate
// conversation data and the State Store. It is threaded into a plugin
// call automatically when the plugin function declares a trailing
// parameter of this type; internal/store's implementation satisfies it.
type DBSession interface {
	MessageCount(ctx context.Context, conversationID string) (int, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MessageRange(ctx context.Context, conversationID string, start, end int) ([]models.Message, error)
	ConversationByID(ctx context.Context, conversationID string) (*models.Conversation, error)
	PersonaByID(ctx context.Context, personaID string) (*models.Persona, error)
	StoreMemory(ctx context.Context, mem models.ConversationMemory) (models.ConversationMemory, error)
	RecentMemories(ctx context.Context, conversationID string, limit int) ([]models.ConversationMemory, error)
	ClearMemories(ctx context.Context, conversationID string) (int, error)
	HasCompressedRange(ctx context.Context, conversationID string, messageIDs []string) (bool, error)
}

// ScriptContext is the capability object the sandbox exposes to scripts
// as `ctx` (see internal/sandbox.Ctx). Declared as an interface here to
// avoid a dependency cycle between plugins and sandbox; sandbox.Ctx
// satisfies it.
type ScriptContext interface {
	ConversationIDValue() string
	PersonaIDValue() string
}

// Func is the underlying shape a registered plugin may take. The
// registry accepts any function value and inspects its signature via
// reflection; the canonical shapes are:
//
//	func(args map[string]any) (any, error)
//	func(args map[string]any, db DBSession) (any, error)
//	func(args map[string]any, ctx ScriptContext) (any, error)
//	func(args map[string]any, db DBSession, ctx ScriptContext) (any, error)
type Func any

// Bound is the wrapper scripts actually call: the registry has already
// closed over db/ctx injection, so a bound plugin looks like a single
// (args) -> (result, error) function from the script's perspective.
type Bound func(args map[string]any) (any, error)

var (
	dbSessionType     = reflect.TypeOf((*DBSession)(nil)).Elem()
	scriptContextType = reflect.TypeOf((*ScriptContext)(nil)).Elem()
	contextType       = reflect.TypeOf((*context.Context)(nil)).Elem()
	argsType          = reflect.TypeOf(map[string]any(nil))
)

// Registry is the process-global plugin table. The built-in set is
// installed by the first Lookup, LookupContext or Names call; Register
// still adds or overwrites entries after that.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Func
	loadOnce sync.Once
	builtin  func(*Registry)
}

// NewRegistry creates an empty registry. builtinLoader installs the
// built-in plugin set on first lookup; pass nil to start with none.
func NewRegistry(builtinLoader func(*Registry)) *Registry {
	return &Registry{
		funcs:   make(map[string]Func),
		builtin: builtinLoader,
	}
}

// Register adds a named plugin function. Re-registering an existing name
// overwrites it; callers are expected to register once at startup.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// ensureLoaded lazily installs the built-in plugin set exactly once.
func (r *Registry) ensureLoaded() {
	if r.builtin == nil {
		return
	}
	// The loader calls Register, which takes r.mu itself, so it runs
	// without r.mu held.
	r.loadOnce.Do(func() { r.builtin(r) })
}

// Lookup returns a bound wrapper for name, with db/ctx auto-injected
// according to the underlying function's declared parameters.
func (r *Registry) Lookup(name string, db DBSession, sc ScriptContext) (Bound, bool) {
	return r.LookupContext(context.Background(), name, db, sc)
}

// LookupContext is Lookup with an explicit context.Context, injected
// into any declared context.Context parameter.
func (r *Registry) LookupContext(ctx context.Context, name string, db DBSession, sc ScriptContext) (Bound, bool) {
	r.ensureLoaded()
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return bind(ctx, fn, db, sc), true
}

// Names returns every registered plugin name, for diagnostics.
func (r *Registry) Names() []string {
	r.ensureLoaded()
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// bind inspects fn's parameter list and returns a closure that supplies
// args plus whichever of ctx/db/sc the signature declares, in
// declaration order after the leading args map.
func bind(callCtx context.Context, fn Func, db DBSession, sc ScriptContext) Bound {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return func(map[string]any) (any, error) {
			return nil, fmt.Errorf("plugins: registered value is not a function")
		}
	}

	return func(args map[string]any) (any, error) {
		in := make([]reflect.Value, 0, t.NumIn())
		for i := 0; i < t.NumIn(); i++ {
			param := t.In(i)
			switch {
			case i == 0 && param == argsType:
				in = append(in, reflect.ValueOf(args))
			case param == contextType:
				if callCtx == nil {
					in = append(in, reflect.ValueOf(context.Background()))
				} else {
					in = append(in, reflect.ValueOf(callCtx))
				}
			case param == dbSessionType:
				if db == nil {
					in = append(in, reflect.Zero(param))
				} else {
					in = append(in, reflect.ValueOf(db))
				}
			case param == scriptContextType:
				if sc == nil {
					in = append(in, reflect.Zero(param))
				} else {
					in = append(in, reflect.ValueOf(sc))
				}
			default:
				in = append(in, reflect.Zero(param))
			}
		}

		out := v.Call(in)
		var (
			result any
			err    error
		)
		if len(out) > 0 {
			if !out[0].IsNil() || out[0].Kind() != reflect.Interface {
				result = out[0].Interface()
			}
		}
		if len(out) > 1 && !out[1].IsNil() {
			err, _ = out[1].Interface().(error)
		}
		return result, err
	}
}
