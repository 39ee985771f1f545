package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"scribly/internal/domain"
)

// BodyField es el campo del stream entry que lleva el payload JSON.
const BodyField = "body"

// RedisGateway implementa Gateway sobre Redis Streams: XADD a un stream por
// canal; cada cola interesada es un consumer group sobre ese stream, lo que
// da el fan-out broadcast a todos los consumers bindeados.
type RedisGateway struct {
	client *redis.Client
}

func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

func (g *RedisGateway) AnnounceUserCreated(ctx context.Context, user domain.User) error {
	return g.publish(ctx, StreamUserCreated, user)
}

func (g *RedisGateway) AnnounceTurnTaken(ctx context.Context, story domain.Story) error {
	return g.publish(ctx, StreamTurnTaken, TurnTakenMessage{
		StoryID:    story.ID,
		TurnNumber: len(story.Turns),
	})
}

func (g *RedisGateway) AnnounceCowritersAdded(ctx context.Context, story domain.Story) error {
	return g.publish(ctx, StreamCowritersAdded, CowritersAddedMessage{StoryID: story.ID})
}

func (g *RedisGateway) publish(ctx context.Context, stream string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{BodyField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}
