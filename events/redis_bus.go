package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

// Stream entry fields
const (
	FieldRoutingKey = "routing_key"
	FieldBody       = "body"
	FieldError      = "error"
	FieldOriginalID = "original_id"
)

// Publisher sends an event to an exchange under a routing key
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, env Envelope) error
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// StreamPublisher maps an exchange onto a Redis stream of the same name;
// the routing key travels as a field so consumers can filter on it.
type StreamPublisher struct {
	client redis.Cmdable
	maxLen int64
}

// NewStreamPublisher publishes to client; maxLen > 0 caps each stream approximately
func NewStreamPublisher(client redis.Cmdable, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, exchange, routingKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", env.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: exchange,
		Values: map[string]interface{}{
			FieldRoutingKey: routingKey,
			FieldBody:       string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", routingKey, exchange, err)
	}
	return nil
}
