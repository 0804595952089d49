package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GenerateAdapter implements the "Generate style" upstream variant:
// newline-delimited JSON, Ollama-shaped chunks carrying
// message.{content, thinking?} and a top-level done flag, with the
// final chunk adding total_duration/eval_count/prompt_eval_count.
//
// Grounded on haasonsaas-nexus internal/agent/providers/ollama.go's
// streamResponse (bufio.Scanner line loop) and wire structs, adapted to
// this spec's pure-function Adapter contract instead of the teacher's
// single monolithic Complete method.
type GenerateAdapter struct{}

var _ Adapter = GenerateAdapter{}

func (GenerateAdapter) Name() string { return "generate" }

func (GenerateAdapter) Validate(settings Settings) error {
	if settings.str("base_url") == "" {
		return fmt.Errorf("providers: generate adapter requires base_url")
	}
	if settings.str("model") == "" {
		return fmt.Errorf("providers: generate adapter requires model")
	}
	return nil
}

func (GenerateAdapter) BuildURL(settings Settings) string {
	return strings.TrimRight(settings.str("base_url"), "/") + "/api/chat"
}

func (GenerateAdapter) ListModelsURL(settings Settings) string {
	return strings.TrimRight(settings.str("base_url"), "/") + "/api/tags"
}

func (GenerateAdapter) BuildHeaders(settings Settings) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

type generateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generatePayload struct {
	Model    string            `json:"model"`
	Messages []generateMessage `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  map[string]any    `json:"options,omitempty"`
}

func (GenerateAdapter) BuildPayload(req Request, settings Settings) ([]byte, error) {
	messages := make([]generateMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, generateMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, generateMessage{Role: "user", Content: req.User})

	model := req.Model
	if model == "" {
		model = settings.str("model")
	}

	payload := generatePayload{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if maxTokens, ok := req.Controls["max_tokens"]; ok {
		payload.Options = map[string]any{"num_predict": maxTokens}
	}
	return json.Marshal(payload)
}

type generateResponseMessage struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type generateResponse struct {
	Message         *generateResponseMessage `json:"message"`
	Done            bool                     `json:"done"`
	Error           string                   `json:"error"`
	TotalDuration   int64                    `json:"total_duration"`
	EvalCount       int                      `json:"eval_count"`
	PromptEvalCount int                      `json:"prompt_eval_count"`
}

func (GenerateAdapter) ParseResponse(body []byte) (*Response, error) {
	var resp generateResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode generate response: %w", err)
	}
	if resp.Error != "" {
		return nil, &ConnectionError{Provider: "generate", Cause: fmt.Errorf("%s", resp.Error)}
	}
	content, thinking := "", ""
	if resp.Message != nil {
		content = resp.Message.Content
		thinking = resp.Message.Thinking
	}
	return &Response{
		Content:  content,
		Thinking: thinking,
		Provider: "generate",
		Metadata: map[string]any{
			"total_duration":   resp.TotalDuration,
			"eval_count":       resp.EvalCount,
			"prompt_eval_count": resp.PromptEvalCount,
		},
	}, nil
}

func (GenerateAdapter) ParseChunk(line []byte) (*Chunk, error) {
	var resp generateResponse
	if err := decodeJSON(line, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode generate chunk: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("providers: generate chunk error: %s", resp.Error)
	}
	chunk := &Chunk{Done: resp.Done}
	if resp.Message != nil {
		chunk.Content = resp.Message.Content
		chunk.Thinking = resp.Message.Thinking
	}
	if resp.Done {
		chunk.Metadata = map[string]any{
			"total_duration":    resp.TotalDuration,
			"eval_count":        resp.EvalCount,
			"prompt_eval_count": resp.PromptEvalCount,
		}
	}
	return chunk, nil
}

type generateModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (GenerateAdapter) ParseModels(body []byte) ([]Model, error) {
	var resp generateModelsResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("providers: decode generate model list: %w", err)
	}
	out := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, Model{ID: m.Name, Name: m.Name})
	}
	return out, nil
}
