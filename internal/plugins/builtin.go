package plugins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mdcslabs/conduit/pkg/models"
)

// RegisterBuiltins installs the conversation-access plugin set every
// process registers by default: message/history lookups, persona info,
// and the compressed-memory helpers the post-response reflection stage
// uses to manage the rolling memory buffer.
func RegisterBuiltins(r *Registry) {
	r.Register("get_message_count", getMessageCount)
	r.Register("get_recent_messages", getRecentMessages)
	r.Register("get_message_range", getMessageRange)
	r.Register("get_conversation_summary", getConversationSummary)
	r.Register("get_persona_info", getPersonaInfo)
	r.Register("should_compress_buffer", shouldCompressBuffer)
	r.Register("should_compress_buffer_by_ids", shouldCompressBufferByIDs)
	r.Register("store_memory", storeMemory)
	r.Register("get_recent_memories", getRecentMemories)
	r.Register("clear_memories", clearMemories)
}

// resolveConversationID prefers an explicit "conversation_id" arg,
// falling back to the calling script's own conversation.
func resolveConversationID(args map[string]any, sc ScriptContext) string {
	if v, ok := args["conversation_id"].(string); ok && v != "" {
		return v
	}
	if sc != nil {
		return sc.ConversationIDValue()
	}
	return ""
}

func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func getMessageCount(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return 0, nil
	}
	return db.MessageCount(context.Background(), convID)
}

func getRecentMessages(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	limit := intArg(args, "limit", 5)
	if convID == "" || db == nil {
		return "No conversation history available (no conversation context)", nil
	}
	msgs, err := db.RecentMessages(context.Background(), convID, limit)
	if err != nil {
		return fmt.Sprintf("Error retrieving conversation history: %v", err), nil
	}
	return formatMessages(msgs), nil
}

func getMessageRange(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	start := intArg(args, "start", 0)
	end := intArg(args, "end", -1)
	if convID == "" || db == nil {
		return "No conversation history available (no conversation context)", nil
	}
	msgs, err := db.MessageRange(context.Background(), convID, start, end)
	if err != nil {
		return fmt.Sprintf("Error retrieving message range: %v", err), nil
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No messages found in range %d to %d", start, end), nil
	}
	return formatMessages(msgs), nil
}

func formatMessages(msgs []models.Message) string {
	if len(msgs) == 0 {
		return "No conversation history available (no messages found)"
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ts := m.CreatedAt.Format("15:04")
		role := strings.Title(string(m.Role))
		content := strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " "), "\r", " ")
		if content == "" {
			content = "[empty message]"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, role, content))
	}
	return strings.Join(lines, "\n")
}

func getConversationSummary(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return map[string]any{}, nil
	}
	conv, err := db.ConversationByID(context.Background(), convID)
	if err != nil || conv == nil {
		return map[string]any{}, nil
	}
	count, _ := db.MessageCount(context.Background(), convID)
	personaName := "Unknown"
	if conv.PersonaID != "" {
		if p, err := db.PersonaByID(context.Background(), conv.PersonaID); err == nil && p != nil {
			personaName = p.DisplayName
		}
	}
	return map[string]any{
		"id":            conv.ID,
		"message_count": count,
		"persona_name":  personaName,
		"persona_id":    conv.PersonaID,
		"created_at":    conv.CreatedAt.Format(time.RFC3339),
	}, nil
}

func getPersonaInfo(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	personaID, _ := args["persona_id"].(string)
	if personaID == "" && sc != nil {
		personaID = sc.PersonaIDValue()
	}
	if personaID == "" || db == nil {
		return map[string]any{}, nil
	}
	p, err := db.PersonaByID(context.Background(), personaID)
	if err != nil || p == nil {
		return map[string]any{}, nil
	}
	return map[string]any{
		"id":           p.ID,
		"name":         p.DisplayName,
		"template":     p.Template,
		"is_active":    p.Active,
	}, nil
}

// bufferSizeDefault and bufferWindow mirror the original's fixed
// memory-compaction window: messages 25-35 overlap short-term memory to
// give the compression stage continuity context.
const (
	bufferSizeDefault = 11
	bufferWindowStart = 25
	bufferWindowEnd   = 35
)

func shouldCompressBuffer(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return false, nil
	}
	bufferSize := intArg(args, "buffer_size", bufferSizeDefault)
	minTotal := intArg(args, "min_total_messages", bufferSize+5)

	total, err := db.MessageCount(context.Background(), convID)
	if err != nil {
		return false, nil
	}
	if total < minTotal {
		return false, nil
	}
	memories, err := db.RecentMemories(context.Background(), convID, 1)
	if err != nil {
		return false, nil
	}
	// Already compressed at or beyond this size: nothing new to do.
	for _, m := range memories {
		if m.MessageCountAtCompaction >= total {
			return false, nil
		}
	}
	return true, nil
}

func shouldCompressBufferByIDs(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return false, nil
	}
	raw, _ := args["buffer_message_ids"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	overlap, err := db.HasCompressedRange(context.Background(), convID, ids)
	if err != nil {
		return false, nil
	}
	return !overlap, nil
}

func storeMemory(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return map[string]any{"error": "No conversation context available"}, nil
	}
	content, _ := args["compressed_content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return map[string]any{"error": "Compressed content cannot be empty"}, nil
	}
	firstID, _ := args["first_message_id"].(string)
	total := intArg(args, "total_messages", 0)
	if total == 0 {
		total, _ = db.MessageCount(context.Background(), convID)
	}

	mem := models.ConversationMemory{
		ConversationID:           convID,
		CompressedContent:        content,
		OriginalMessageRange:     models.MessageRange{FromIndex: bufferWindowStart, ToIndex: bufferWindowEnd},
		FirstMessageID:           firstID,
		MessageCountAtCompaction: total,
	}
	stored, err := db.StoreMemory(context.Background(), mem)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("Failed to store memory: %v", err)}, nil
	}
	return map[string]any{
		"success":          true,
		"memory_sequence":  stored.Sequence,
		"total_messages":   total,
	}, nil
}

func getRecentMemories(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	limit := intArg(args, "limit", 10)
	if convID == "" || db == nil {
		return []any{}, nil
	}
	memories, err := db.RecentMemories(context.Background(), convID, limit)
	if err != nil {
		return []any{}, nil
	}
	out := make([]any, 0, len(memories))
	for _, m := range memories {
		out = append(out, map[string]any{
			"sequence":           m.Sequence,
			"compressed_content": m.CompressedContent,
			"created_at":         m.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

func clearMemories(args map[string]any, db DBSession, sc ScriptContext) (any, error) {
	convID := resolveConversationID(args, sc)
	if convID == "" || db == nil {
		return map[string]any{"error": "No conversation context available"}, nil
	}
	n, err := db.ClearMemories(context.Background(), convID)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("Failed to clear memories: %v", err)}, nil
	}
	return map[string]any{"success": true, "deleted_count": n, "conversation_id": convID}, nil
}
