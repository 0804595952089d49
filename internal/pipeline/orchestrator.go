package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"

	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/pkg/models"
)

// Frame is the outbound envelope every frame type shares (§4.3, §6):
// {type, data}.
type Frame struct {
	Type string
	Data map[string]any
}

// Emitter is how the orchestrator delivers frames without owning the
// socket itself; internal/gateway's Connection Manager satisfies this
// by writing frame.Data under frame.Type to the session's socket.
type Emitter interface {
	Emit(ctx context.Context, sessionID string, frame Frame) error
}

// Provider is the subset of internal/providers.Client the orchestrator
// drives: a single streaming call threaded with the turn's cancellation
// token.
type Provider interface {
	Stream(ctx context.Context, req ProviderRequest, settings map[string]any, token *cancel.Token) (<-chan ProviderChunk, error)
}

// ProviderRequest and ProviderChunk mirror internal/providers.Request
// and .Chunk; declared locally so pipeline doesn't need to import
// internal/providers just to name the shape Provider already speaks
// (avoids a second concrete type needing a third-party struct here).
type ProviderRequest struct {
	System   string
	User     string
	Model    string
	Controls map[string]any
}

type ProviderChunk struct {
	Content  string
	Thinking string
	Done     bool
	Metadata map[string]any
}

// PersonaStore is the minimal persona lookup the orchestrator needs.
type PersonaStore interface {
	PersonaByID(ctx context.Context, personaID string) (*models.Persona, error)
}

// ChatRequest is the inbound `chat` frame's payload (§4.9 preconditions).
type ChatRequest struct {
	SocketSessionID  string
	Message          string
	Provider         string
	PersonaID        string
	ConversationID   string
	ProviderSettings map[string]any
	ChatControls     map[string]any
}

// Orchestrator is the Pipeline Orchestrator (C9): it sequences the
// Stage Executors, threads the turn's cancellation token, emits frames,
// and persists post-response state (§4.9).
type Orchestrator struct {
	Sessions *cancel.Registry
	Personas PersonaStore
	Modules  ModuleStore
	Executor *Executor
	Provider Provider
	Logger   *slog.Logger

	// Tracker, when non-nil, is called once per turn to obtain a fresh
	// PromptState; returning nil disables tracking for that turn.
	Tracker func() *PromptState
}

// NewOrchestrator wires the pieces the rest of the core already
// provides into a ready-to-run Orchestrator.
func NewOrchestrator(sessions *cancel.Registry, personas PersonaStore, modules ModuleStore, executor *Executor, provider Provider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Sessions: sessions,
		Personas: personas,
		Modules:  modules,
		Executor: executor,
		Provider: provider,
		Logger:   logger,
	}
}

// RunTurn executes the 8-step turn sequence §4.9 specifies, emitting
// frames to emit as it goes. Individual module and stage failures are
// logged and turned into warnings, never propagated as a fatal error of
// the turn; RunTurn itself only returns an error for conditions that
// make emitting further frames meaningless (registry exhaustion before
// anything has been emitted, or a persona/module lookup failure after
// chat_session_start).
func (o *Orchestrator) RunTurn(ctx context.Context, emit Emitter, req ChatRequest) error {
	chatSessionID := uuid.NewString()
	token, err := o.Sessions.Register(chatSessionID, req.ConversationID)
	if err != nil {
		return fmt.Errorf("pipeline: registering chat session: %w", err)
	}

	if err := emit.Emit(ctx, req.SocketSessionID, Frame{
		Type: "chat_session_start",
		Data: map[string]any{"chat_session_id": chatSessionID},
	}); err != nil {
		o.Logger.Warn("emit chat_session_start failed", "chat_session_id", chatSessionID, "error", err)
	}
	// Yield once so the client has a chance to bind its cancel button
	// to chatSessionID before any blocking work starts (§4.9 step 1).
	runtime.Gosched()

	var tracker *PromptState
	if o.Tracker != nil {
		tracker = o.Tracker()
	}

	var (
		resolvedPrompt string
		moduleSet      map[string]*models.Module
	)

	if req.PersonaID != "" {
		persona, err := o.Personas.PersonaByID(ctx, req.PersonaID)
		if err != nil {
			o.Sessions.Remove(chatSessionID)
			return fmt.Errorf("pipeline: persona lookup: %w", err)
		}
		mods, err := o.Modules.ModulesByPersona(ctx, req.PersonaID)
		if err != nil {
			o.Sessions.Remove(chatSessionID)
			return fmt.Errorf("pipeline: module lookup: %w", err)
		}
		moduleSet = make(map[string]*models.Module, len(mods))
		for i := range mods {
			m := mods[i]
			if m.Active {
				moduleSet[m.Name] = &m
			}
		}
		if tracker != nil {
			tracker.OriginalTemplate = persona.Template
		}

		st := &turnState{
			conversationID:   req.ConversationID,
			personaID:        req.PersonaID,
			providerSettings: req.ProviderSettings,
			token:            token,
			triggerMessage:   req.Message,
			moduleSet:        moduleSet,
			tracker:          tracker,
		}

		_ = emit.Emit(ctx, req.SocketSessionID, Frame{Type: "stage_update", Data: map[string]any{"stage": "thinking_before"}})

		stage1, err := o.Executor.ResolveTemplate(ctx, StageOne, persona.Template, st)
		if err != nil {
			return o.cancelTurn(ctx, emit, req.SocketSessionID, chatSessionID, token)
		}
		stage2, err := o.Executor.ResolveTemplate(ctx, StageTwo, stage1, st)
		if err != nil {
			return o.cancelTurn(ctx, emit, req.SocketSessionID, chatSessionID, token)
		}
		resolvedPrompt = stage2
	} else {
		moduleSet = map[string]*models.Module{}
	}

	_ = emit.Emit(ctx, req.SocketSessionID, Frame{Type: "stage_update", Data: map[string]any{"stage": "generating"}})

	providerReq := ProviderRequest{System: resolvedPrompt, User: req.Message, Controls: req.ChatControls}
	chunks, err := o.Provider.Stream(ctx, providerReq, req.ProviderSettings, token)
	if err != nil {
		_ = emit.Emit(ctx, req.SocketSessionID, Frame{Type: "error", Data: map[string]any{"chat_session_id": chatSessionID, "message": err.Error()}})
		o.Sessions.Remove(chatSessionID)
		return nil
	}

	var (
		accumulatedContent  string
		accumulatedThinking string
		finalMetadata       map[string]any
	)
	for chunk := range chunks {
		accumulatedContent += chunk.Content
		accumulatedThinking += chunk.Thinking
		if chunk.Done {
			finalMetadata = chunk.Metadata
		}
		_ = emit.Emit(ctx, req.SocketSessionID, Frame{
			Type: "chunk",
			Data: map[string]any{
				"chat_session_id": chatSessionID,
				"content":         chunk.Content,
				"thinking":        chunk.Thinking,
				"done":            chunk.Done,
				"metadata":        chunk.Metadata,
			},
		})
	}

	if err := token.Check(); err != nil {
		// The stream stopped because the turn was cancelled: no `done`.
		return o.cancelTurn(ctx, emit, req.SocketSessionID, chatSessionID, token)
	}

	_ = emit.Emit(ctx, req.SocketSessionID, Frame{
		Type: "done",
		Data: map[string]any{"chat_session_id": chatSessionID, "metadata": finalMetadata},
	})

	if err := token.Check(); err != nil {
		// Cancellation after `done` is a no-op for the client but still
		// short-circuits the post-response work (§4.9).
		o.Sessions.Remove(chatSessionID)
		return nil
	}

	_ = emit.Emit(ctx, req.SocketSessionID, Frame{Type: "stage_update", Data: map[string]any{"stage": "thinking_after"}})

	postSt := &turnState{
		conversationID:   req.ConversationID,
		personaID:        req.PersonaID,
		providerSettings: req.ProviderSettings,
		token:            token,
		// triggerMessage stays the turn's last user message (§4.8); only
		// the trigger *context* gains the AI reply (§4.9), exposed to
		// scripts as sandbox.Ctx.LastAIMessage, never substituted for the
		// pattern-match subject.
		triggerMessage: req.Message,
		lastAIMessage:  accumulatedContent,
		moduleSet:      moduleSet,
		tracker:        tracker,
	}
	if err := o.Executor.RunPostResponse(ctx, StageFour, postSt); err != nil {
		o.Logger.Warn("post-response stage 4 interrupted", "chat_session_id", chatSessionID, "error", err)
	}
	if err := o.Executor.RunPostResponse(ctx, StageFive, postSt); err != nil {
		o.Logger.Warn("post-response stage 5 interrupted", "chat_session_id", chatSessionID, "error", err)
	}

	_ = emit.Emit(ctx, req.SocketSessionID, Frame{Type: "post_response_complete", Data: map[string]any{"chat_session_id": chatSessionID}})
	o.Sessions.Complete(chatSessionID)
	o.Sessions.Remove(chatSessionID)
	return nil
}

// cancelTurn emits `cancelled` and tears down the chat session's token,
// used when a stage-resolution check observes the token has been
// cancelled (§4.9 "On cancellation at any check, emit cancelled and
// stop; do not run Stage 3").
func (o *Orchestrator) cancelTurn(ctx context.Context, emit Emitter, socketSessionID, chatSessionID string, token *cancel.Token) error {
	_ = emit.Emit(ctx, socketSessionID, Frame{Type: "cancelled", Data: map[string]any{"chat_session_id": chatSessionID}})
	o.Sessions.Remove(chatSessionID)
	return nil
}
