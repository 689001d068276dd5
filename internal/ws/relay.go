package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"collab-service/internal/observability"
)

const relayChannel = "collab:relay"

// RedisRelay fans broadcasts out to every node over Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRelay{client: client, channel: relayChannel}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Run delivers relayed messages to hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg RelayMessage
			if err := r.decode(m.Payload, &msg); err != nil {
				log.Printf("ws: drop malformed relay message: %v", err)
				continue
			}
			hub.Deliver(msg)
		}
	}
}

// decode parses a relayed message, counting failures on the relay error metric.
func (r *RedisRelay) decode(payload string, msg *RelayMessage) error {
	if err := json.Unmarshal([]byte(payload), msg); err != nil {
		observability.IncRelayError()
		return err
	}
	return nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
