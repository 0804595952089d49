package gateway

import (
	"context"
	"fmt"

	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/pipeline"
	"github.com/mdcslabs/conduit/internal/providers"
)

// adapterSettingsKey is where providerBridge reads the chat frame's
// "ollama"|"openai" provider name from within the provider_settings bag
// the Pipeline Orchestrator forwards untouched to Provider.Stream — the
// orchestrator's ChatRequest carries Provider as a sibling field, not part
// of ProviderSettings, so the handler that builds ChatRequest copies it in
// here before calling RunTurn (see ws_session.go's handleChat).
const adapterSettingsKey = "__adapter"

// providerBridge adapts internal/providers' two concrete Clients to the
// pipeline.Provider interface, selecting the adapter by the chat frame's
// "ollama"|"openai" provider name (spec.md §6). Kept here rather than in
// internal/pipeline so that package stays free of the net/http-bearing
// providers import (see DESIGN.md's internal/pipeline entry).
type providerBridge struct {
	clients map[string]*providers.Client
}

func newProviderBridge() *providerBridge {
	return &providerBridge{
		clients: map[string]*providers.Client{
			"ollama": providers.New(providers.GenerateAdapter{}),
			"openai": providers.New(providers.ChatCompletionAdapter{}),
		},
	}
}

// NewProviderBridge returns a pipeline.Provider that dispatches a chat
// turn to the Generate-style (ollama) or Chat-Completion-style (openai)
// adapter based on the request's provider name. cmd/conduitd wires this
// into pipeline.NewOrchestrator; Server keeps its own instance for the
// REST test/models endpoints, which bypass the orchestrator entirely.
func NewProviderBridge() pipeline.Provider {
	return newProviderBridge()
}

func (b *providerBridge) clientFor(name string) (*providers.Client, error) {
	c, ok := b.clients[name]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown provider %q", name)
	}
	return c, nil
}

// Stream satisfies pipeline.Provider. settings must carry adapterSettingsKey
// (stripped before being handed to the adapter, which never sees it).
func (b *providerBridge) Stream(ctx context.Context, req pipeline.ProviderRequest, settings map[string]any, token *cancel.Token) (<-chan pipeline.ProviderChunk, error) {
	name, _ := settings[adapterSettingsKey].(string)
	client, err := b.clientFor(name)
	if err != nil {
		return nil, err
	}

	adapterSettings := make(providers.Settings, len(settings))
	for k, v := range settings {
		if k == adapterSettingsKey {
			continue
		}
		adapterSettings[k] = v
	}

	chunks, err := client.Stream(ctx, providers.Request{
		System:   req.System,
		User:     req.User,
		Model:    req.Model,
		Controls: req.Controls,
	}, adapterSettings, token)
	if err != nil {
		return nil, err
	}

	out := make(chan pipeline.ProviderChunk)
	go func() {
		defer close(out)
		for c := range chunks {
			out <- pipeline.ProviderChunk{Content: c.Content, Thinking: c.Thinking, Done: c.Done, Metadata: c.Metadata}
		}
	}()
	return out, nil
}
