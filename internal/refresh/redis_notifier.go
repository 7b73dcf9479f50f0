package refresh

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultChannel = "fixdesk:views:stale"

type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(addr string, password string, db int, channel string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Notify publishes the stale paths on the channel. Subscribers filter by
// organization.
func (n *RedisNotifier) Notify(ctx context.Context, organizationID string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(Message{
		OrganizationID: organizationID,
		Paths:          paths,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
