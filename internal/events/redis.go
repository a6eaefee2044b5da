package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goalflow/internal/agent"
)

// RedisPublisher appends every entry to a Redis stream so other services
// can follow document activity.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (p *RedisPublisher) Record(ctx context.Context, documentID, actorID string, entries []agent.AuditEntry) error {
	for _, e := range entries {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		err = p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"type":        eventType(e),
				"document_id": documentID,
				"actor_id":    actorID,
				"run_id":      e.RunID,
				"attempt":     e.Attempt,
				"index":       e.Index,
				"tool":        e.Tool,
				"status":      e.Status,
				"error":       e.Error,
				"params":      string(params),
				"ts":          e.Timestamp.UTC().Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("publish audit entry %s/%d: %w", e.RunID, e.Index, err)
		}
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
