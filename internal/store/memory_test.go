package store

import (
	"context"
	"testing"

	"github.com/mdcslabs/conduit/pkg/models"
)

func TestMemoryStoreModulesByPersonaFiltersAndSorts(t *testing.T) {
	s := NewMemoryStore()
	s.SeedModule(models.Module{ID: "m2", Name: "zebra", PersonaID: "p1"})
	s.SeedModule(models.Module{ID: "m1", Name: "alpha", PersonaID: "p1"})
	s.SeedModule(models.Module{ID: "m3", Name: "other", PersonaID: "p2"})

	got, err := s.ModulesByPersona(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ModulesByPersona() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "zebra" {
		t.Fatalf("ModulesByPersona() = %+v, want [alpha zebra]", got)
	}
}

func TestMemoryStorePersonaByIDNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.PersonaByID(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("PersonaByID() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpsertStateThenGetLatestPrefersStage5(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertState(ctx, "conv1", "mod1", models.Stage4, map[string]any{"count": 1}, models.ExecutionMetadata{Success: true}); err != nil {
		t.Fatalf("UpsertState(stage4) error = %v", err)
	}
	if err := s.UpsertState(ctx, "conv1", "mod1", models.Stage5, map[string]any{"count": 2}, models.ExecutionMetadata{Success: true}); err != nil {
		t.Fatalf("UpsertState(stage5) error = %v", err)
	}

	got, err := s.GetLatestState(ctx, "conv1", "mod1")
	if err != nil {
		t.Fatalf("GetLatestState() error = %v", err)
	}
	if got["count"] != 2 {
		t.Fatalf("GetLatestState() = %+v, want stage5's value to win (later ExecutedAt)", got)
	}
}

func TestMemoryStoreGetLatestStateNeverExecutedReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.GetLatestState(context.Background(), "conv1", "nope")
	if err != nil {
		t.Fatalf("GetLatestState() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetLatestState() = %+v, want nil for a module that never executed", got)
	}
}

func TestMemoryStoreUpsertStateOverwritesSameStage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.UpsertState(ctx, "conv1", "mod1", models.Stage4, map[string]any{"count": 1}, models.ExecutionMetadata{Success: true})
	s.UpsertState(ctx, "conv1", "mod1", models.Stage4, map[string]any{"count": 9}, models.ExecutionMetadata{Success: true})

	got, _ := s.GetLatestState(ctx, "conv1", "mod1")
	if got["count"] != 9 {
		t.Fatalf("GetLatestState() = %+v, want the second upsert to win", got)
	}
}

func TestMemoryStoreAppendAndReadMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.AppendMessage(ctx, models.Message{ID: string(rune('a' + i)), ConversationID: "conv1", Role: models.RoleUser})
	}

	count, err := s.MessageCount(ctx, "conv1")
	if err != nil || count != 5 {
		t.Fatalf("MessageCount() = %d, %v, want 5, nil", count, err)
	}

	recent, err := s.RecentMessages(ctx, "conv1", 2)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "d" || recent[1].ID != "e" {
		t.Fatalf("RecentMessages() = %+v, want last two messages", recent)
	}

	rng, err := s.MessageRange(ctx, "conv1", 1, 3)
	if err != nil {
		t.Fatalf("MessageRange() error = %v", err)
	}
	if len(rng) != 2 || rng[0].ID != "b" || rng[1].ID != "c" {
		t.Fatalf("MessageRange() = %+v, want messages b,c", rng)
	}

	paged, err := s.GetMessages(ctx, "conv1", 0, 2)
	if err != nil || len(paged) != 2 {
		t.Fatalf("GetMessages() = %+v, %v, want 2 messages", paged, err)
	}
}

func TestMemoryStoreStoreMemoryAssignsMonotoneSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.StoreMemory(ctx, models.ConversationMemory{ConversationID: "conv1", CompressedContent: "first summary"})
	if err != nil {
		t.Fatalf("StoreMemory() error = %v", err)
	}
	second, err := s.StoreMemory(ctx, models.ConversationMemory{ConversationID: "conv1", CompressedContent: "second summary"})
	if err != nil {
		t.Fatalf("StoreMemory() error = %v", err)
	}
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}

	recent, err := s.RecentMemories(ctx, "conv1", 10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("RecentMemories() = %+v, %v, want 2 memories", recent, err)
	}
}

func TestMemoryStoreClearMemoriesDoesNotResetSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.StoreMemory(ctx, models.ConversationMemory{ConversationID: "conv1", CompressedContent: "first"})

	n, err := s.ClearMemories(ctx, "conv1")
	if err != nil || n != 1 {
		t.Fatalf("ClearMemories() = %d, %v, want 1, nil", n, err)
	}

	next, err := s.StoreMemory(ctx, models.ConversationMemory{ConversationID: "conv1", CompressedContent: "second"})
	if err != nil {
		t.Fatalf("StoreMemory() error = %v", err)
	}
	if next.Sequence != 2 {
		t.Fatalf("next.Sequence = %d, want 2 (sequence counter must not reset on clear)", next.Sequence)
	}
}

func TestMemoryStoreHasCompressedRangeMatchesFirstMessageID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.StoreMemory(ctx, models.ConversationMemory{ConversationID: "conv1", FirstMessageID: "msg-25"})

	has, err := s.HasCompressedRange(ctx, "conv1", []string{"msg-30", "msg-25"})
	if err != nil {
		t.Fatalf("HasCompressedRange() error = %v", err)
	}
	if !has {
		t.Fatalf("HasCompressedRange() = false, want true (msg-25 overlaps a compressed memory)")
	}

	has, err = s.HasCompressedRange(ctx, "conv1", []string{"msg-99"})
	if err != nil {
		t.Fatalf("HasCompressedRange() error = %v", err)
	}
	if has {
		t.Fatalf("HasCompressedRange() = true, want false (no overlap)")
	}
}
