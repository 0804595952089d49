package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mdcslabs/conduit/pkg/models"
)

// Config configures connection pooling for the Postgres/CockroachDB-backed
// Store.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the pool settings conduitd uses unless overridden
// by the serve command's config file.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore is the durable Store implementation, backed by lib/pq
// against Postgres or CockroachDB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromDSN opens and pings a connection pool, applying cfg
// (or DefaultConfig if nil).
func NewPostgresStoreFromDSN(dsn string, cfg *Config) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ModulesByPersona(ctx context.Context, personaID string) ([]models.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, context, requires_ai, trigger_pattern, content, script, active, persona_id
		FROM modules WHERE persona_id = $1 AND active = true ORDER BY name`, personaID)
	if err != nil {
		return nil, fmt.Errorf("store: modules by persona: %w", err)
	}
	defer rows.Close()

	var out []models.Module
	for rows.Next() {
		var m models.Module
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind, &m.Context, &m.RequiresAI, &m.Trigger, &m.Content, &m.Script, &m.Active, &m.PersonaID); err != nil {
			return nil, fmt.Errorf("store: scan module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PersonaByID(ctx context.Context, personaID string) (*models.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, template, active FROM personas WHERE id = $1`, personaID)

	var p models.Persona
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Template, &p.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get persona: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ConversationByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, persona_id, created_at FROM conversations WHERE id = $1`, conversationID)

	var c models.Conversation
	if err := row.Scan(&c.ID, &c.PersonaID, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &c, nil
}

// GetLatestState returns the more recently executed of the stage4/stage5
// rows for (conversationID, moduleID), or nil if neither exists.
func (s *PostgresStore) GetLatestState(ctx context.Context, conversationID, moduleID string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT variables FROM conversation_state
		WHERE conversation_id = $1 AND module_id = $2
		ORDER BY executed_at DESC LIMIT 1`, conversationID, moduleID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get latest state: %w", err)
	}
	var vars map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &vars); err != nil {
			return nil, fmt.Errorf("store: unmarshal state variables: %w", err)
		}
	}
	return vars, nil
}

// UpsertState overwrites the row keyed on (conversation_id, module_id,
// execution_stage), mirroring the canvas store's ON CONFLICT pattern.
func (s *PostgresStore) UpsertState(ctx context.Context, conversationID, moduleID string, stage models.ExecutionStage, variables map[string]any, meta models.ExecutionMetadata) error {
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("store: marshal state variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_state (conversation_id, module_id, execution_stage, variables, success, duration_ms, error, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (conversation_id, module_id, execution_stage) DO UPDATE
		SET variables = excluded.variables, success = excluded.success, duration_ms = excluded.duration_ms,
		    error = excluded.error, executed_at = excluded.executed_at
	`,
		conversationID, moduleID, stage, varsJSON, meta.Success, meta.Duration.Milliseconds(), meta.Error, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert state: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, thinking, prompt_tokens, completion_tokens, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Thinking, msg.PromptTokens, msg.CompletionToks, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	out := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Thinking, &m.PromptTokens, &m.CompletionToks, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, thinking, prompt_tokens, completion_tokens, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC OFFSET $2 LIMIT $3`,
		conversationID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *PostgresStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: message count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, thinking, prompt_tokens, completion_tokens, created_at
		FROM (
			SELECT id, conversation_id, role, content, thinking, prompt_tokens, completion_tokens, created_at
			FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *PostgresStore) MessageRange(ctx context.Context, conversationID string, start, end int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, thinking, prompt_tokens, completion_tokens, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC OFFSET $2 LIMIT $3`,
		conversationID, start, end-start)
	if err != nil {
		return nil, fmt.Errorf("store: message range: %w", err)
	}
	return s.scanMessages(rows)
}

// StoreMemory assigns the next sequence via a SELECT ... FOR UPDATE on the
// conversation's memory row to keep the append monotone under concurrent
// compaction runs.
func (s *PostgresStore) StoreMemory(ctx context.Context, mem models.ConversationMemory) (models.ConversationMemory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ConversationMemory{}, fmt.Errorf("store: begin memory tx: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(memory_sequence), 0) + 1 FROM conversation_memories
		WHERE conversation_id = $1 FOR UPDATE`, mem.ConversationID).Scan(&nextSeq)
	if err != nil {
		return models.ConversationMemory{}, fmt.Errorf("store: next memory sequence: %w", err)
	}
	mem.Sequence = nextSeq
	mem.CreatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_memories
			(conversation_id, memory_sequence, compressed_content, range_from, range_to, first_message_id, message_count_at_compaction, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		mem.ConversationID, mem.Sequence, mem.CompressedContent, mem.OriginalMessageRange.FromIndex, mem.OriginalMessageRange.ToIndex,
		mem.FirstMessageID, mem.MessageCountAtCompaction, mem.CreatedAt,
	)
	if err != nil {
		return models.ConversationMemory{}, fmt.Errorf("store: insert memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConversationMemory{}, fmt.Errorf("store: commit memory tx: %w", err)
	}
	return mem, nil
}

func (s *PostgresStore) RecentMemories(ctx context.Context, conversationID string, limit int) ([]models.ConversationMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, memory_sequence, compressed_content, range_from, range_to, first_message_id, message_count_at_compaction, created_at
		FROM (
			SELECT * FROM conversation_memories WHERE conversation_id = $1 ORDER BY memory_sequence DESC LIMIT $2
		) recent ORDER BY memory_sequence ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent memories: %w", err)
	}
	defer rows.Close()

	out := make([]models.ConversationMemory, 0)
	for rows.Next() {
		var m models.ConversationMemory
		if err := rows.Scan(&m.ConversationID, &m.Sequence, &m.CompressedContent, &m.OriginalMessageRange.FromIndex, &m.OriginalMessageRange.ToIndex, &m.FirstMessageID, &m.MessageCountAtCompaction, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClearMemories(ctx context.Context, conversationID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_memories WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("store: clear memories: %w", err)
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

func (s *PostgresStore) HasCompressedRange(ctx context.Context, conversationID string, messageIDs []string) (bool, error) {
	if len(messageIDs) == 0 {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_memories
			WHERE conversation_id = $1 AND first_message_id = ANY($2)
		)`, conversationID, pq.Array(messageIDs)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has compressed range: %w", err)
	}
	return exists, nil
}
