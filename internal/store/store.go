// Package store implements the State Store (C10): durable per-turn
// output-variable persistence, the message log, and long-term memory
// (§4.10). The interface is shared by every consumer the core has — the
// Stage Executors, the Pipeline Orchestrator's persona/module lookups,
// and the Plugin Registry's db_session injection — so one backing
// implementation serves all three.
package store

import (
	"context"
	"errors"

	"github.com/mdcslabs/conduit/pkg/models"
)

// ErrNotFound is returned by lookups that find nothing, mirroring the
// teacher's storage package sentinel.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence surface the core depends on. The core
// never inspects the physical representation behind it (§4.10); a
// single implementation (MemoryStore for tests/dev, PostgresStore for
// production) satisfies internal/pipeline's ModuleStore/StateStore/
// PersonaStore and internal/plugins' DBSession simultaneously.
type Store interface {
	ModulesByPersona(ctx context.Context, personaID string) ([]models.Module, error)
	PersonaByID(ctx context.Context, personaID string) (*models.Persona, error)
	ConversationByID(ctx context.Context, conversationID string) (*models.Conversation, error)

	GetLatestState(ctx context.Context, conversationID, moduleID string) (map[string]any, error)
	UpsertState(ctx context.Context, conversationID, moduleID string, stage models.ExecutionStage, variables map[string]any, meta models.ExecutionMetadata) error

	AppendMessage(ctx context.Context, msg models.Message) error
	GetMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MessageRange(ctx context.Context, conversationID string, start, end int) ([]models.Message, error)

	StoreMemory(ctx context.Context, mem models.ConversationMemory) (models.ConversationMemory, error)
	RecentMemories(ctx context.Context, conversationID string, limit int) ([]models.ConversationMemory, error)
	ClearMemories(ctx context.Context, conversationID string) (int, error)
	HasCompressedRange(ctx context.Context, conversationID string, messageIDs []string) (bool, error)
}
