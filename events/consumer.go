package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
	"github.com/samandartukhtayev/ecommerce-sharding/retry"
)

// Handler processes one event. Delivery is at-least-once, so handlers
// must be idempotent.
type Handler func(ctx context.Context, env Envelope) error

// ConsumerConfig names the stream, group and dead-letter target
type ConsumerConfig struct {
	Stream          string
	RoutingKey      string
	Group           string
	Consumer        string
	DeadLetterTopic string
	DeadLetterKey   string
	BatchSize       int64
	Block           time.Duration
	// ClaimMinIdle is how long an entry must sit unacked before Reclaim takes
	// it over; ClaimInterval is how often Run sweeps for such entries.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	Retry         retry.Config
}

// ConsumerConfigFrom builds the registration consumer settings
func ConsumerConfigFrom(ec config.EventsConfig, rc config.RetryConfig) ConsumerConfig {
	return ConsumerConfig{
		Stream:          ec.Exchange,
		RoutingKey:      ec.RegisteredKey,
		Group:           ec.ConsumerGroup,
		Consumer:        ec.ConsumerName,
		DeadLetterTopic: ec.DeadLetterExchange,
		DeadLetterKey:   ec.FailedKey,
		BatchSize:       ec.BatchSize,
		Block:           ec.BlockTimeout,
		ClaimMinIdle:    ec.ClaimMinIdle,
		ClaimInterval:   ec.ClaimInterval,
		Retry:           retry.FromAppConfig(rc),
	}
}

// Consumer reads a stream through a consumer group. Messages whose
// handler keeps failing are copied to the dead-letter stream and acked.
type Consumer struct {
	client  redis.Cmdable
	cfg     ConsumerConfig
	handler Handler
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewConsumer(client redis.Cmdable, cfg ConsumerConfig, handler Handler, log *zap.Logger, m *metrics.Metrics) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	// Block 0 means "forever" to Redis, which would stall shutdown
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		log:     logger.OrNop(log).With(zap.String("stream", cfg.Stream), zap.String("group", cfg.Group)),
		metrics: m,
	}
}

// EnsureGroup creates the stream and consumer group if missing
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Entries left pending by a previous
// run of this consumer are processed first, and entries idle in the group
// for longer than ClaimMinIdle are taken over periodically.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("Event consumer started", zap.String("consumer", c.cfg.Consumer))

	if n, err := c.DrainPending(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("Failed to drain pending events", zap.Error(err))
	} else if n > 0 {
		c.log.Info("Drained pending events", zap.Int("count", n))
	}
	lastClaim := time.Now()

	for {
		if ctx.Err() != nil {
			c.log.Info("Event consumer stopped")
			return nil
		}
		if time.Since(lastClaim) >= c.cfg.ClaimInterval {
			if _, err := c.Reclaim(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("Failed to reclaim stale events", zap.Error(err))
			}
			lastClaim = time.Now()
		}
		if _, err := c.Poll(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("Failed to read events", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

// Poll reads one batch starting at id (">" for new entries, "0" for this
// consumer's pending ones) and handles it. Returns the number handled.
func (c *Consumer) Poll(ctx context.Context, id string) (int, error) {
	n, _, err := c.read(ctx, id)
	return n, err
}

// DrainPending handles this consumer's whole pending list batch by batch.
// It pages by entry id, so an entry whose ack fails is not read twice.
func (c *Consumer) DrainPending(ctx context.Context) (int, error) {
	total := 0
	start := "0"
	for {
		n, last, err := c.read(ctx, start)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
		start = last
	}
}

// Reclaim takes over entries that any consumer of the group left unacked
// for at least ClaimMinIdle and handles them.
func (c *Consumer) Reclaim(ctx context.Context) (int, error) {
	total := 0
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimMinIdle,
			Start:    start,
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("failed to claim stale events: %w", err)
		}
		for _, msg := range msgs {
			c.handleMessage(ctx, msg)
			total++
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			if total > 0 {
				c.log.Info("Reclaimed stale events", zap.Int("count", total))
			}
			return total, nil
		}
		start = next
	}
}

// read handles one batch from id and returns the count and the last id seen
func (c *Consumer) read(ctx context.Context, id string) (int, string, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, id, nil
		}
		return 0, id, err
	}

	handled := 0
	last := id
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.handleMessage(ctx, msg)
			handled++
			last = msg.ID
		}
	}
	return handled, last, nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	log := c.log.With(zap.String("message_id", msg.ID))

	routingKey, _ := msg.Values[FieldRoutingKey].(string)
	if c.cfg.RoutingKey != "" && routingKey != c.cfg.RoutingKey {
		log.Debug("Skipping event with foreign routing key", zap.String("routing_key", routingKey))
		c.ack(ctx, msg.ID)
		return
	}

	body, _ := msg.Values[FieldBody].(string)
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		log.Error("Malformed event body", zap.Error(err))
		c.deadLetter(ctx, msg, body, err)
		return
	}

	log = log.With(zap.String("event_id", env.ID), zap.String("event", env.EventName))
	err := retry.ExecuteWithRetry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.handler(ctx, env)
	})
	if err != nil {
		if ctx.Err() != nil {
			// leave it pending; it is retried on the next start
			return
		}
		log.Error("Event handling failed", zap.Error(err))
		c.deadLetter(ctx, msg, body, err)
		return
	}

	c.metrics.EventConsumed(metrics.OutcomeSuccess)
	c.ack(ctx, msg.ID)
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, body string, cause error) {
	if c.cfg.DeadLetterTopic != "" {
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.DeadLetterTopic,
			Values: map[string]interface{}{
				FieldRoutingKey: c.cfg.DeadLetterKey,
				FieldBody:       body,
				FieldError:      cause.Error(),
				FieldOriginalID: msg.ID,
			},
		}).Err()
		if err != nil {
			// not acked: stays pending and is retried on restart
			c.log.Error("Failed to dead-letter event", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
	}
	c.metrics.EventConsumed(metrics.OutcomeDeadLetter)
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Warn("Failed to ack event", zap.String("message_id", id), zap.Error(err))
	}
}
