package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chatrelay-backend/internal/models"
)

// EventPublisher delivers conversation events to a user's live connections.
type EventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// UserChannel is the pub/sub channel carrying a user's events.
func UserChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// RedisPublisher publishes events on the per-user Redis channel the
// websocket hub subscribes to.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, UserChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, uuid.UUID, models.WSMessage) error { return nil }
