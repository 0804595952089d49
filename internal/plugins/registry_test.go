package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/mdcslabs/conduit/pkg/models"
)

type fakeDB struct{}

func (fakeDB) MessageCount(context.Context, string) (int, error)                    { return 0, nil }
func (fakeDB) RecentMessages(context.Context, string, int) ([]models.Message, error) { return nil, nil }
func (fakeDB) MessageRange(context.Context, string, int, int) ([]models.Message, error) {
	return nil, nil
}
func (fakeDB) ConversationByID(context.Context, string) (*models.Conversation, error) { return nil, nil }
func (fakeDB) PersonaByID(context.Context, string) (*models.Persona, error)           { return nil, nil }
func (fakeDB) StoreMemory(context.Context, models.ConversationMemory) (models.ConversationMemory, error) {
	return models.ConversationMemory{}, nil
}
func (fakeDB) RecentMemories(context.Context, string, int) ([]models.ConversationMemory, error) {
	return nil, nil
}
func (fakeDB) ClearMemories(context.Context, string) (int, error) { return 0, nil }
func (fakeDB) HasCompressedRange(context.Context, string, []string) (bool, error) {
	return false, nil
}

type fakeScriptContext struct {
	conv, persona string
}

func (f fakeScriptContext) ConversationIDValue() string { return f.conv }
func (f fakeScriptContext) PersonaIDValue() string      { return f.persona }

func TestRegistryLookupPlainFunction(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("echo", func(args map[string]any) (any, error) {
		return args["msg"], nil
	})

	bound, ok := reg.Lookup("echo", nil, nil)
	if !ok {
		t.Fatalf("Lookup() ok = false, want true")
	}
	got, err := bound(map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("bound() error = %v", err)
	}
	if got != "hi" {
		t.Fatalf("bound() = %v, want hi", got)
	}
}

func TestRegistryInjectsDBSession(t *testing.T) {
	reg := NewRegistry(nil)
	var gotDB DBSession
	reg.Register("withdb", func(args map[string]any, db DBSession) (any, error) {
		gotDB = db
		return nil, nil
	})

	db := fakeDB{}
	bound, _ := reg.Lookup("withdb", db, nil)
	if _, err := bound(nil); err != nil {
		t.Fatalf("bound() error = %v", err)
	}
	if gotDB != db {
		t.Fatalf("db not injected: got %v", gotDB)
	}
}

func TestRegistryInjectsScriptContext(t *testing.T) {
	reg := NewRegistry(nil)
	var gotConv string
	reg.Register("withctx", func(args map[string]any, sc ScriptContext) (any, error) {
		gotConv = sc.ConversationIDValue()
		return nil, nil
	})

	sc := fakeScriptContext{conv: "conv-1"}
	bound, _ := reg.Lookup("withctx", nil, sc)
	if _, err := bound(nil); err != nil {
		t.Fatalf("bound() error = %v", err)
	}
	if gotConv != "conv-1" {
		t.Fatalf("ScriptContext not injected: got %q", gotConv)
	}
}

func TestRegistryPropagatesError(t *testing.T) {
	reg := NewRegistry(nil)
	wantErr := errors.New("boom")
	reg.Register("fails", func(args map[string]any) (any, error) {
		return nil, wantErr
	})

	bound, _ := reg.Lookup("fails", nil, nil)
	_, err := bound(nil)
	if err != wantErr {
		t.Fatalf("bound() error = %v, want %v", err, wantErr)
	}
}

func TestRegistryLookupUnknownName(t *testing.T) {
	reg := NewRegistry(nil)
	if _, ok := reg.Lookup("nope", nil, nil); ok {
		t.Fatalf("Lookup() ok = true for unregistered name")
	}
}

func TestRegistryLazyLoadsBuiltinsOnce(t *testing.T) {
	calls := 0
	reg := NewRegistry(func(r *Registry) {
		calls++
		r.Register("builtin", func(map[string]any) (any, error) { return "ok", nil })
	})

	if _, ok := reg.Lookup("builtin", nil, nil); !ok {
		t.Fatalf("Lookup() ok = false for builtin plugin")
	}
	reg.Names()
	if calls != 1 {
		t.Fatalf("builtin loader called %d times, want 1", calls)
	}
}
