package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/retry"
)

const (
	testStream = "user.events"
	testKey    = "user.profile.registered"
	testDLQ    = "dlx.user.events"
	testFailed = "user.profile.failed"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Stream:          testStream,
		RoutingKey:      testKey,
		Group:           "users-profile.queue",
		Consumer:        "test-consumer",
		DeadLetterTopic: testDLQ,
		DeadLetterKey:   testFailed,
		BatchSize:       10,
		Block:           50 * time.Millisecond,
		Retry: retry.Config{
			Enabled:       true,
			MaxAttempts:   2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		},
	}
}

func publishRegistered(t *testing.T, client *redis.Client, userID string) Envelope {
	t.Helper()
	env, err := NewEnvelope(testKey, userID, UserPayload{UserID: userID, Email: userID + "@x.com"})
	require.NoError(t, err)
	require.NoError(t, NewStreamPublisher(client, 0).Publish(context.Background(), testStream, testKey, env))
	return env
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), testStream, "users-profile.queue").Result()
	require.NoError(t, err)
	return pending.Count
}

// =============================================================================
// Envelope / Publisher
// =============================================================================

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(testKey, "sender-1", UserPayload{UserID: "u1", Email: "u1@x.com"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "sender-1", env.SenderID)
	assert.Equal(t, testKey, env.EventName)
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Second)

	var p UserPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, "u1", p.UserID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"senderId":"sender-1"`)
	assert.Contains(t, string(raw), `"eventName":"user.profile.registered"`)
	assert.Contains(t, string(raw), `"userId":"u1"`)
}

func TestEnvelope_DecodePayload_Empty(t *testing.T) {
	var p UserPayload
	assert.Error(t, Envelope{ID: "e1"}.DecodePayload(&p))
}

func TestStreamPublisher_Publish(t *testing.T) {
	_, client := setupRedis(t)
	env := publishRegistered(t, client, "u1")

	entries, err := client.XRange(context.Background(), testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testKey, entries[0].Values[FieldRoutingKey])

	var got Envelope
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values[FieldBody].(string)), &got))
	assert.Equal(t, env.ID, got.ID)
}

func TestStreamPublisher_PublishFailsWhenRedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	env, err := NewEnvelope(testKey, "u1", UserPayload{UserID: "u1"})
	require.NoError(t, err)
	assert.Error(t, NewStreamPublisher(client, 0).Publish(context.Background(), testStream, testKey, env))
}

// =============================================================================
// Consumer
// =============================================================================

func TestConsumer_HandlesAndAcks(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	var got []UserPayload
	c := NewConsumer(client, testConsumerConfig(), func(ctx context.Context, env Envelope) error {
		var p UserPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		got = append(got, p)
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx), "creating the group twice is fine")

	publishRegistered(t, client, "u1")
	publishRegistered(t, client, "u2")

	n, err := c.Poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestConsumer_PollEmpty(t *testing.T) {
	_, client := setupRedis(t)
	c := NewConsumer(client, testConsumerConfig(), func(context.Context, Envelope) error { return nil }, nil, nil)
	require.NoError(t, c.EnsureGroup(context.Background()))

	n, err := c.Poll(context.Background(), ">")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConsumer_DeadLettersAfterRetries(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	calls := 0
	c := NewConsumer(client, testConsumerConfig(), func(context.Context, Envelope) error {
		calls++
		return apperrors.Unavailable("shard down")
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))
	publishRegistered(t, client, "u1")

	_, err := c.Poll(ctx, ">")
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "retried up to MaxAttempts")
	assert.Equal(t, int64(0), pendingCount(t, client))

	dlq, err := client.XRange(ctx, testDLQ, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, testFailed, dlq[0].Values[FieldRoutingKey])
	assert.Contains(t, dlq[0].Values[FieldError], "shard down")
}

func TestConsumer_PermanentErrorNotRetried(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	calls := 0
	c := NewConsumer(client, testConsumerConfig(), func(context.Context, Envelope) error {
		calls++
		return errors.New("invalid payload")
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))
	publishRegistered(t, client, "u1")

	_, err := c.Poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	n, err := client.XLen(ctx, testDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_SkipsForeignRoutingKey(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	c := NewConsumer(client, testConsumerConfig(), func(context.Context, Envelope) error {
		t.Fatal("handler must not see foreign routing keys")
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	env, err := NewEnvelope("user.profile.updated", "u1", UserPayload{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, NewStreamPublisher(client, 0).Publish(ctx, testStream, "user.profile.updated", env))

	n, err := c.Poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestConsumer_MalformedBodyDeadLettered(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	c := NewConsumer(client, testConsumerConfig(), func(context.Context, Envelope) error {
		t.Fatal("handler must not see malformed bodies")
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: testStream,
		Values: map[string]interface{}{FieldRoutingKey: testKey, FieldBody: "{not json"},
	}).Err())

	_, err := c.Poll(ctx, ">")
	require.NoError(t, err)

	n, err := client.XLen(ctx, testDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	_, client := setupRedis(t)

	handled := make(chan string, 1)
	c := NewConsumer(client, testConsumerConfig(), func(ctx context.Context, env Envelope) error {
		var p UserPayload
		_ = env.DecodePayload(&p)
		handled <- p.UserID
		return nil
	}, nil, nil)

	require.NoError(t, c.EnsureGroup(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	publishRegistered(t, client, "u9")

	select {
	case id := <-handled:
		assert.Equal(t, "u9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not consumed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

// leavePending delivers every new entry to consumer without acking it
func leavePending(t *testing.T, client *redis.Client, consumer string) int {
	t.Helper()
	streams, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    "users-profile.queue",
		Consumer: consumer,
		Streams:  []string{testStream, ">"},
		Count:    100,
	}).Result()
	require.NoError(t, err)
	return len(streams[0].Messages)
}

func TestConsumer_DrainPendingHandlesWholeBacklog(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	cfg := testConsumerConfig()
	cfg.BatchSize = 3
	var got []string
	c := NewConsumer(client, cfg, func(ctx context.Context, env Envelope) error {
		var p UserPayload
		require.NoError(t, env.DecodePayload(&p))
		got = append(got, p.UserID)
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		publishRegistered(t, client, id)
	}
	require.Equal(t, 8, leavePending(t, client, cfg.Consumer))

	n, err := c.DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}, got)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestConsumer_DrainPendingStopsWhenEntriesCannotBeSettled(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	// the dead-letter key holds a string, so XADD to it fails
	require.NoError(t, client.Set(ctx, testDLQ, "occupied", 0).Err())

	cfg := testConsumerConfig()
	cfg.BatchSize = 2
	calls := 0
	c := NewConsumer(client, cfg, func(context.Context, Envelope) error {
		calls++
		return errors.New("invalid payload")
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		publishRegistered(t, client, id)
	}
	require.Equal(t, 5, leavePending(t, client, cfg.Consumer))

	done := make(chan int, 1)
	go func() {
		n, err := c.DrainPending(ctx)
		assert.NoError(t, err)
		done <- n
	}()

	select {
	case n := <-done:
		assert.Equal(t, 5, n, "each stuck entry is read once")
	case <-time.After(2 * time.Second):
		t.Fatal("drain kept re-reading entries it could not settle")
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, int64(5), pendingCount(t, client))
}

func TestConsumer_ReclaimTakesOverStaleEntries(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	cfg := testConsumerConfig()
	cfg.ClaimMinIdle = time.Millisecond
	var got []string
	c := NewConsumer(client, cfg, func(ctx context.Context, env Envelope) error {
		var p UserPayload
		require.NoError(t, env.DecodePayload(&p))
		got = append(got, p.UserID)
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		publishRegistered(t, client, id)
	}
	require.Equal(t, 5, leavePending(t, client, "crashed-consumer"))
	time.Sleep(10 * time.Millisecond)

	n, err := c.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, got)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestConsumer_ReclaimLeavesFreshEntries(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	cfg := testConsumerConfig()
	cfg.ClaimMinIdle = time.Hour
	c := NewConsumer(client, cfg, func(context.Context, Envelope) error {
		t.Fatal("fresh entries belong to their consumer")
		return nil
	}, nil, nil)
	require.NoError(t, c.EnsureGroup(ctx))

	publishRegistered(t, client, "u1")
	require.Equal(t, 1, leavePending(t, client, "busy-consumer"))

	n, err := c.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), pendingCount(t, client))
}
