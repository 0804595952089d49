// Package models defines the data model shared across the orchestration
// pipeline: modules, personas, conversations, and the state the pipeline
// reads and writes across turns.
package models

import (
	"regexp"
	"time"
)

// ModuleNamePattern is the contract enforced at CRUD time; the core treats
// it as an invariant on any Module it is handed.
var ModuleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,49}$`)

// ModuleKind distinguishes static text modules from script-backed ones.
type ModuleKind string

const (
	ModuleKindSimple   ModuleKind = "simple"
	ModuleKindAdvanced ModuleKind = "advanced"
)

// ExecutionContext places a module before or after the main completion.
type ExecutionContext string

const (
	ExecutionImmediate    ExecutionContext = "immediate"
	ExecutionPostResponse ExecutionContext = "post_response"
)

// Module is a unit of composition in a persona's template graph.
//
// Invariant: Kind == ModuleKindSimple implies Script == "" and
// RequiresAI == false. The core never mutates a Module; it is read-only
// here (CRUD lives outside this package).
type Module struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Kind       ModuleKind       `json:"kind"`
	Context    ExecutionContext `json:"context"`
	RequiresAI bool             `json:"requires_ai"`
	Trigger    string           `json:"trigger_pattern,omitempty"`
	Content    string           `json:"content"`
	Script     string           `json:"script,omitempty"`
	Active     bool             `json:"active"`
	PersonaID  string           `json:"persona_id"`
}

// Valid reports whether m satisfies the simple/advanced invariant and the
// module name contract.
func (m *Module) Valid() bool {
	if m == nil || !ModuleNamePattern.MatchString(m.Name) {
		return false
	}
	if m.Kind == ModuleKindSimple && (m.Script != "" || m.RequiresAI) {
		return false
	}
	return m.Kind == ModuleKindSimple || m.Kind == ModuleKindAdvanced
}

// Persona owns a conversation and a template that references modules by
// `@name`.
type Persona struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Template    string `json:"template"`
	Active      bool   `json:"active"`
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a Conversation's append-only log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Thinking       string    `json:"thinking,omitempty"`
	PromptTokens   int       `json:"prompt_tokens,omitempty"`
	CompletionToks int       `json:"completion_tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is an append-only sequence of Messages owned by a Persona.
type Conversation struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionStage identifies which post-response stage produced a
// ConversationState row.
type ExecutionStage string

const (
	Stage4 ExecutionStage = "stage4"
	Stage5 ExecutionStage = "stage5"
)

// ExecutionMetadata records the outcome of one module execution.
type ExecutionMetadata struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ConversationState is keyed on (ConversationID, ModuleID, Stage); the
// latest execution overwrites prior state (upsert semantics).
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	ModuleID       string            `json:"module_id"`
	Stage          ExecutionStage    `json:"execution_stage"`
	Variables      map[string]any    `json:"variables"`
	Metadata       ExecutionMetadata `json:"execution_metadata"`
	ExecutedAt     time.Time         `json:"executed_at"`
}

// MessageRange identifies the original messages a ConversationMemory
// summary replaces.
type MessageRange struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

// ConversationMemory is one compressed summary in a conversation's
// append-only, monotone-sequenced memory log.
type ConversationMemory struct {
	ConversationID           string       `json:"conversation_id"`
	Sequence                 int64        `json:"memory_sequence"`
	CompressedContent        string       `json:"compressed_content"`
	OriginalMessageRange     MessageRange `json:"original_message_range"`
	FirstMessageID           string       `json:"first_message_id"`
	MessageCountAtCompaction int          `json:"message_count_at_compression"`
	CreatedAt                time.Time    `json:"created_at"`
}
