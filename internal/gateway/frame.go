package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// inboundFrame is the envelope every inbound WebSocket message shares
// (spec.md §6): {type, data} plus the cancel frame's top-level session_id.
type inboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

type chatFrameData struct {
	Message          string         `json:"message"`
	Provider         string         `json:"provider"`
	PersonaID        string         `json:"persona_id,omitempty"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	ProviderSettings map[string]any `json:"provider_settings,omitempty"`
	ChatControls     map[string]any `json:"chat_controls,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
}

type schemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	chat    *jsonschema.Schema
	cancel  *jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		req, err := jsonschema.CompileString("inbound_frame", inboundFrameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.request = req

		chat, err := jsonschema.CompileString("chat_frame_data", chatFrameDataSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.chat = chat

		cancel, err := jsonschema.CompileString("cancel_frame", cancelFrameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.cancel = cancel
	})
	return schemas.initErr
}

// validateInboundFrame checks the envelope, then the per-type payload, the
// way the teacher's ws_schema.go validates the envelope and then the
// per-method params schema.
func validateInboundFrame(raw []byte, frame *inboundFrame) error {
	if err := initSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := schemas.request.Validate(payload); err != nil {
		return err
	}

	switch frame.Type {
	case "chat":
		var data any
		if len(frame.Data) == 0 {
			data = map[string]any{}
		} else if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
		if err := schemas.chat.Validate(data); err != nil {
			return err
		}
	case "cancel":
		if err := schemas.cancel.Validate(payload); err != nil {
			return err
		}
	case "ping":
		// no payload to validate
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

const inboundFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "enum": ["chat", "cancel", "ping"] },
    "data": {},
    "session_id": { "type": "string" }
  },
  "additionalProperties": true
}`

const chatFrameDataSchema = `{
  "type": "object",
  "required": ["message", "provider"],
  "properties": {
    "message": { "type": "string", "minLength": 1 },
    "provider": { "type": "string", "enum": ["ollama", "openai"] },
    "persona_id": { "type": "string" },
    "conversation_id": { "type": "string" },
    "provider_settings": { "type": "object" },
    "chat_controls": { "type": "object" },
    "idempotency_key": { "type": "string" }
  },
  "additionalProperties": true
}`

const cancelFrameSchema = `{
  "type": "object",
  "required": ["type", "session_id"],
  "properties": {
    "type": { "const": "cancel" },
    "session_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
