package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mdcslabs/conduit/pkg/models"
)

// MemoryStore is an in-process Store backed by mutex-guarded maps. It is
// the default store for tests and local development; PostgresStore is
// the durable counterpart used in production (§4.10).
type MemoryStore struct {
	mu sync.Mutex

	modules       map[string]models.Module
	personas      map[string]models.Persona
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	states        map[string]models.ConversationState
	memories      map[string][]models.ConversationMemory
	memSeq        map[string]int64
}

// NewMemoryStore returns an empty MemoryStore ready for Seed* calls.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:       map[string]models.Module{},
		personas:      map[string]models.Persona{},
		conversations: map[string]models.Conversation{},
		messages:      map[string][]models.Message{},
		states:        map[string]models.ConversationState{},
		memories:      map[string][]models.ConversationMemory{},
		memSeq:        map[string]int64{},
	}
}

// SeedModule registers a module so ModulesByPersona can return it.
func (s *MemoryStore) SeedModule(m models.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ID] = m
}

// SeedPersona registers a persona so PersonaByID can return it.
func (s *MemoryStore) SeedPersona(p models.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = p
}

// SeedConversation registers a conversation so ConversationByID can return it.
func (s *MemoryStore) SeedConversation(c models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

func stateKey(conversationID, moduleID string, stage models.ExecutionStage) string {
	return conversationID + "/" + moduleID + "/" + string(stage)
}

func (s *MemoryStore) ModulesByPersona(ctx context.Context, personaID string) ([]models.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Module, 0)
	for _, m := range s.modules {
		if m.PersonaID == personaID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PersonaByID(ctx context.Context, personaID string) (*models.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[personaID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ConversationByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// GetLatestState returns the variables of whichever of Stage4/Stage5
// executed most recently for (conversationID, moduleID), or nil if
// neither has ever run — the "state has never executed" case §4.10
// requires callers to treat as an empty bag rather than an error.
func (s *MemoryStore) GetLatestState(ctx context.Context, conversationID, moduleID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s4, ok4 := s.states[stateKey(conversationID, moduleID, models.Stage4)]
	s5, ok5 := s.states[stateKey(conversationID, moduleID, models.Stage5)]
	switch {
	case ok4 && ok5:
		if s5.ExecutedAt.After(s4.ExecutedAt) {
			return s5.Variables, nil
		}
		return s4.Variables, nil
	case ok5:
		return s5.Variables, nil
	case ok4:
		return s4.Variables, nil
	default:
		return nil, nil
	}
}

// UpsertState overwrites the row keyed on (conversationID, moduleID, stage),
// mirroring the ON CONFLICT ... DO UPDATE semantics of the Postgres backend.
func (s *MemoryStore) UpsertState(ctx context.Context, conversationID, moduleID string, stage models.ExecutionStage, variables map[string]any, meta models.ExecutionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(conversationID, moduleID, stage)] = models.ConversationState{
		ConversationID: conversationID,
		ModuleID:       moduleID,
		Stage:          stage,
		Variables:      variables,
		Metadata:       meta,
		ExecutedAt:     time.Now(),
	}
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if offset >= len(all) {
		return []models.Message{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]models.Message, end-offset)
	copy(out, all[offset:end])
	return out, nil
}

func (s *MemoryStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID]), nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	start := len(all) - limit
	out := make([]models.Message, limit)
	copy(out, all[start:])
	return out, nil
}

func (s *MemoryStore) MessageRange(ctx context.Context, conversationID string, start, end int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if start < 0 {
		start = 0
	}
	if end > len(all) {
		end = len(all)
	}
	if start >= end {
		return []models.Message{}, nil
	}
	out := make([]models.Message, end-start)
	copy(out, all[start:end])
	return out, nil
}

// StoreMemory assigns the next monotone Sequence for the conversation and
// appends; sequence numbers are never reused even after ClearMemories.
func (s *MemoryStore) StoreMemory(ctx context.Context, mem models.ConversationMemory) (models.ConversationMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memSeq[mem.ConversationID]++
	mem.Sequence = s.memSeq[mem.ConversationID]
	mem.CreatedAt = time.Now()
	s.memories[mem.ConversationID] = append(s.memories[mem.ConversationID], mem)
	return mem, nil
}

func (s *MemoryStore) RecentMemories(ctx context.Context, conversationID string, limit int) ([]models.ConversationMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.memories[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	start := len(all) - limit
	out := make([]models.ConversationMemory, limit)
	copy(out, all[start:])
	return out, nil
}

func (s *MemoryStore) ClearMemories(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.memories[conversationID])
	delete(s.memories, conversationID)
	return n, nil
}

// HasCompressedRange reports whether any of messageIDs is already the
// first message of a stored memory, i.e. already-compacted territory the
// should_compress_buffer_by_ids plugin must not re-flag for compression.
func (s *MemoryStore) HasCompressedRange(ctx context.Context, conversationID string, messageIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	for _, mem := range s.memories[conversationID] {
		if want[mem.FirstMessageID] {
			return true, nil
		}
	}
	return false, nil
}
