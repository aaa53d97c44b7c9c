package presence

import (
	"context"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"

	connectionsField = "connections"
	lastSeenField    = "last_seen"
)

// RedisTracker keeps presence in a redis hash per participant so every
// gateway instance observes the same connection count.
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func presenceKey(p models.Participant) string {
	return presenceKeyPrefix + p.Token()
}

func (t *RedisTracker) SetOnline(ctx context.Context, p models.Participant) error {
	return t.client.HIncrBy(ctx, presenceKey(p), connectionsField, 1).Err()
}

func (t *RedisTracker) SetOffline(ctx context.Context, p models.Participant, lastSeen time.Time) error {
	key := presenceKey(p)

	remaining, err := t.client.HIncrBy(ctx, key, connectionsField, -1).Result()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	// Clamp underflow from missed connect events and stamp last-seen.
	pipe := t.client.Pipeline()
	pipe.HSet(ctx, key, connectionsField, 0)
	pipe.HSet(ctx, key, lastSeenField, lastSeen.UTC().Format(time.RFC3339Nano))
	_, err = pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Get(ctx context.Context, p models.Participant) (models.Presence, error) {
	values, err := t.client.HGetAll(ctx, presenceKey(p)).Result()
	if err != nil {
		return models.Presence{}, err
	}

	var status models.Presence
	if raw, ok := values[connectionsField]; ok && raw != "" && raw != "0" && raw[0] != '-' {
		status.IsOnline = true
	}
	if raw, ok := values[lastSeenField]; ok && raw != "" {
		if seen, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			status.LastSeen = &seen
		}
	}
	return status, nil
}
