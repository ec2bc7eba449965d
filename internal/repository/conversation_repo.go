package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	c := &models.Conversation{}
	query := `SELECT id, user_id, title, created_at FROM conversations WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// CreateIfAbsent inserts c unless a conversation with the same id exists.
// It returns the stored row, which belongs to whichever writer won, and
// whether this call created it.
func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	query := `INSERT INTO conversations (id, user_id, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, c.ID, c.UserID, c.Title, c.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}
	created := tag.RowsAffected() == 1

	stored, err := r.GetByID(ctx, c.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-read conversation: %w", err)
	}
	return stored, created, nil
}

// Delete removes the conversation and its messages atomically.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Conversation, error) {
	query := `SELECT id, user_id, title, created_at FROM conversations
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
