package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisNotifier publishes notifications on Redis pub/sub channels, letting the
// surrounding pipeline subscribe to escalations without an HTTP receiver.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier wraps an existing Redis client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Send implements Notifier by publishing to the channel.
func (n *RedisNotifier) Send(ctx context.Context, channelID, message string) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("redis notifier not configured")
	}
	if err := n.client.Publish(ctx, channelID, message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channelID, err)
	}
	return nil
}
