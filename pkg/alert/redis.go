package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes messages to Redis pub/sub, one channel per
// topic, for consumption by external alerting infrastructure.
type RedisPublisher struct {
	client        *redis.Client
	channelPrefix string
}

// NewRedisPublisher wraps an already-connected Redis client. Messages to
// topic T are published on the channel channelPrefix + T.
func NewRedisPublisher(client *redis.Client, channelPrefix string) *RedisPublisher {
	return &RedisPublisher{client: client, channelPrefix: channelPrefix}
}

// Publish marshals msg to JSON and publishes it. The call is bounded by a
// short timeout when the caller's context has none: alerting must never
// stall the operation that raised the alert.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert message: %w", err)
	}

	if err := p.client.Publish(ctx, p.channelPrefix+msg.Topic, payload).Err(); err != nil {
		return fmt.Errorf("publish alert to %q: %w", msg.Topic, err)
	}
	return nil
}
