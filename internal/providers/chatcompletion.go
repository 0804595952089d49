package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatCompletionAdapter implements the "Chat-Completion style" upstream
// variant: Bearer auth, optional organization/project headers, SSE
// framing (`data: <json>` per line, terminated by `data: [DONE]`),
// choices[].delta.{role?, content?, reasoning?} chunks.
//
// haasonsaas-nexus's internal/agent/providers/openai.go hands this
// wire format to the sashabaranov/go-openai SDK's own streaming client,
// which hides the line-by-line parsing spec.md §4.7 requires as a pure
// `parse_chunk` function. This adapter keeps the SDK for its request/
// response struct definitions (so payload construction stays exactly
// as the upstream API expects) but performs the HTTP and SSE framing
// itself, through Client.Stream/Client.pump, so parse_chunk is callable
// in isolation the way the spec's contract names it.
type ChatCompletionAdapter struct{}

var _ Adapter = ChatCompletionAdapter{}

func (ChatCompletionAdapter) Name() string { return "chat_completion" }

func (ChatCompletionAdapter) Validate(settings Settings) error {
	if settings.str("api_key") == "" {
		return fmt.Errorf("providers: chat_completion adapter requires api_key")
	}
	if settings.str("model") == "" {
		return fmt.Errorf("providers: chat_completion adapter requires model")
	}
	return nil
}

func (ChatCompletionAdapter) BuildURL(settings Settings) string {
	base := settings.str("base_url")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}

func (ChatCompletionAdapter) ListModelsURL(settings Settings) string {
	base := settings.str("base_url")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return strings.TrimRight(base, "/") + "/models"
}

func (ChatCompletionAdapter) BuildHeaders(settings Settings) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+settings.str("api_key"))
	if org := settings.str("organization"); org != "" {
		h.Set("OpenAI-Organization", org)
	}
	if project := settings.str("project"); project != "" {
		h.Set("OpenAI-Project", project)
	}
	return h
}

// reasoningModelPayload adds the Chat-Completion reasoning-model
// dialect spec.md §6 names: max_tokens travels as
// max_completion_tokens and reasoning_effort is attached, instead of
// the standard max_tokens field.
type reasoningModelPayload struct {
	openai.ChatCompletionRequest
	MaxCompletionTokens int    `json:"max_completion_tokens,omitempty"`
	ReasoningEffort      string `json:"reasoning_effort,omitempty"`
}

func (ChatCompletionAdapter) BuildPayload(req Request, settings Settings) ([]byte, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	model := req.Model
	if model == "" {
		model = settings.str("model")
	}

	base := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}

	if settings.boolean("reasoning_model") {
		payload := reasoningModelPayload{ChatCompletionRequest: base}
		if mt, ok := req.Controls["max_tokens"].(int); ok {
			payload.MaxCompletionTokens = mt
		}
		if effort, ok := req.Controls["reasoning_effort"].(string); ok {
			switch effort {
			case "low", "medium", "high":
				payload.ReasoningEffort = effort
			}
		}
		return json.Marshal(payload)
	}

	if mt, ok := req.Controls["max_tokens"].(int); ok {
		base.MaxTokens = mt
	}
	if temp, ok := req.Controls["temperature"].(float64); ok {
		base.Temperature = float32(temp)
	}
	return json.Marshal(base)
}

func (ChatCompletionAdapter) ParseResponse(body []byte) (*Response, error) {
	var resp openai.ChatCompletionResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("providers: chat completion response has no choices")
	}
	return &Response{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: "chat_completion",
		Metadata: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"finish_reason":     string(resp.Choices[0].FinishReason),
		},
	}, nil
}

// chatCompletionChunk is a minimal streaming-chunk shape: go-openai's
// own ChatCompletionStreamResponse omits the "reasoning" delta field
// some reasoning-model-dialect upstreams add, so this keeps the wire
// shape explicit rather than widening the SDK type.
type chatCompletionChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (ChatCompletionAdapter) ParseChunk(line []byte) (*Chunk, error) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		// Non-"data:" SSE framing (event:, id:, comments) is skipped.
		return nil, nil
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	if string(payload) == "[DONE]" {
		return nil, nil
	}

	var resp chatCompletionChunk
	if err := decodeJSON(payload, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode chat completion chunk: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	choice := resp.Choices[0]
	chunk := &Chunk{
		Content:  choice.Delta.Content,
		Thinking: choice.Delta.Reasoning,
	}
	if choice.FinishReason != "" {
		chunk.Done = true
		chunk.Metadata = map[string]any{"finish_reason": choice.FinishReason, "model": resp.Model}
	}
	return chunk, nil
}

type chatCompletionModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (ChatCompletionAdapter) ParseModels(body []byte) ([]Model, error) {
	var resp chatCompletionModelsResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode chat completion model list: %w", err)
	}
	out := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, Model{ID: m.ID, Name: m.ID})
	}
	return out, nil
}
