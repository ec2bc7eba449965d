package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Append stores messages in one transaction. A message id already stored in
// the same conversation is skipped so a client retry never duplicates
// history; one stored elsewhere fails the whole append with
// ErrMessageConflict.
func (r *MessageRepo) Append(ctx context.Context, messages ...*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range messages {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// execQuerier is the part of pgx.Tx that insertMessage uses.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMessage(ctx context.Context, q execQuerier, m *models.Message) error {
	parts := m.Parts
	if parts == nil {
		parts = []models.Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("failed to encode parts of message %s: %w", m.ID, err)
	}

	tag, err := q.Exec(ctx, `INSERT INTO messages (id, conversation_id, role, parts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ConversationID, m.Role, partsJSON, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var owner string
	if err := q.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, m.ID).Scan(&owner); err != nil {
		return fmt.Errorf("failed to check existing message %s: %w", m.ID, notFound(err))
	}
	if owner != m.ConversationID {
		return fmt.Errorf("message %s: %w", m.ID, ErrMessageConflict)
	}
	return nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query := `SELECT id, conversation_id, role, parts, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var partsJSON []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &partsJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(partsJSON, &m.Parts); err != nil {
			return nil, fmt.Errorf("failed to decode parts of message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
