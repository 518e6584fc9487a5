package notify

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisChannel publishes events on a per-tenant pub/sub topic so POS
// terminals can react to stock and session changes in real time.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func (c *RedisChannel) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("events:%s", event.TenantID)
	return c.client.Publish(ctx, topic, payload).Err()
}
