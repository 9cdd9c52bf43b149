// ABOUTME: Redis mirror publishing engine events as JSON on a pub/sub channel
// ABOUTME: Lets other processes follow conversations without polling the engine

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes events to a Redis channel.
type RedisMirror struct {
	rdb     *redis.Client
	channel string
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(rdb *redis.Client, channel string) *RedisMirror {
	return &RedisMirror{rdb: rdb, channel: channel}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Mirror publishes e as JSON.
func (m *RedisMirror) Mirror(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := m.rdb.Publish(ctx, m.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.channel, err)
	}
	return nil
}
