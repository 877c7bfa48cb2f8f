// Package conversation persists dispatch history: one conversation per
// task, with its message exchanges.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/model"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    task TEXT NOT NULL,
    prompt_type TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    context_ids TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    model_used TEXT NOT NULL DEFAULT '',
    tokens_used INTEGER NOT NULL DEFAULT 0,
    finish_reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv
    ON conversation_messages(conversation_id, created_at);
`

// NewStore creates the conversation store on the provided connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return s, nil
}

// Create records a new conversation and returns it with its generated ID.
func (s *Store) Create(ctx context.Context, task, promptType string, contextIDs []string) (*model.Conversation, error) {
	if task == "" {
		return nil, errs.Validationf("task must not be empty")
	}
	if contextIDs == nil {
		contextIDs = []string{}
	}
	idsJSON, err := json.Marshal(contextIDs)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:         uuid.NewString(),
		Task:       task,
		PromptType: promptType,
		ContextIDs: contextIDs,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, task, prompt_type, context_ids, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Task, conv.PromptType, string(idsJSON),
		conv.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AddMessages appends messages to the conversation in order.
func (s *Store) AddMessages(ctx context.Context, conversationID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM conversations WHERE id = ?`, conversationID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFound("conversation", conversationID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range messages {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages
			    (conversation_id, role, content, model_used, tokens_used, finish_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.Role, m.Content, m.ModelUsed, m.TokensUsed,
			m.FinishReason, createdAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetProviderModel records which provider and model produced the response.
func (s *Store) SetProviderModel(ctx context.Context, conversationID, provider, modelName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET provider = ?, model = ? WHERE id = ?`,
		provider, modelName, conversationID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("conversation", conversationID)
	}
	return nil
}

// Get returns a conversation with its messages.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, prompt_type, provider, model, context_ids, created_at
		FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("conversation", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, model_used, tokens_used, finish_reason, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Message
		var createdAt string
		if err := rows.Scan(&m.Role, &m.Content, &m.ModelUsed, &m.TokensUsed, &m.FinishReason, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

// List returns conversations newest first, without messages. limit <= 0
// means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]*model.Conversation, error) {
	q := `
		SELECT id, task, prompt_type, provider, model, context_ids, created_at
		FROM conversations
		ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Delete removes a conversation and its messages. Returns false when the
// id was not present.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = ?`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var conv model.Conversation
	var idsJSON, createdAt string
	err := row.Scan(&conv.ID, &conv.Task, &conv.PromptType, &conv.Provider,
		&conv.Model, &idsJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &conv.ContextIDs); err != nil {
		conv.ContextIDs = nil
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &conv, nil
}
