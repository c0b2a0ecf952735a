package sharding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

// fakeShards hands out one sqlmock per DSN and remembers it for assertions.
type fakeShards struct {
	mu        sync.Mutex
	mocks     map[string]sqlmock.Sqlmock
	failPing  map[string]bool
	openCalls int
	// gate, when set, holds every open until it is closed
	gate chan struct{}
}

func newFakeShards() *fakeShards {
	return &fakeShards{
		mocks:    make(map[string]sqlmock.Sqlmock),
		failPing: make(map[string]bool),
	}
}

func (f *fakeShards) open(driver, dsn string) (*sql.DB, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		return nil, err
	}
	if f.failPing[dsn] {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	} else {
		mock.ExpectPing()
	}
	mock.ExpectClose()
	f.mocks[dsn] = mock
	f.openCalls++
	return db, nil
}

func (f *fakeShards) assertAllClosed(t *testing.T) {
	t.Helper()
	for dsn, mock := range f.mocks {
		assert.NoError(t, mock.ExpectationsWereMet(), "dsn %s", dsn)
	}
}

func testShardingConfig(n int) config.ShardingConfig {
	shards := make([]config.ShardConfig, 0, n)
	for i := 0; i < n; i++ {
		shards = append(shards, config.ShardConfig{
			ShardID:  i,
			Primary:  config.DatabaseConfig{Host: fmt.Sprintf("primary-%d", i), Port: 5432, DBName: "users"},
			Replicas: []config.DatabaseConfig{{Host: fmt.Sprintf("replica-%d", i), Port: 5432, DBName: "users"}},
		})
	}
	return config.ShardingConfig{
		ShardCount: n,
		Driver:     config.DriverPgx,
		Shards:     shards,
	}
}

func connectedManager(t *testing.T, n int) (*ShardManager, *fakeShards) {
	t.Helper()
	fake := newFakeShards()
	sm, err := NewShardManager(testShardingConfig(n), WithOpener(fake.open))
	require.NoError(t, err)
	require.NoError(t, sm.ConnectAll(context.Background()))
	return sm, fake
}

func TestNewShardManager_TopologyMismatch(t *testing.T) {
	cfg := testShardingConfig(3)
	cfg.ShardCount = 4

	_, err := NewShardManager(cfg)
	assert.Error(t, err)
}

func TestShardManager_ConnectAll(t *testing.T) {
	sm, fake := connectedManager(t, 4)

	assert.Equal(t, 8, fake.openCalls, "one primary and one replica per shard")
	assert.Equal(t, 4, sm.NumShards())

	shards := sm.AllShards()
	require.Len(t, shards, 4)
	for i, s := range shards {
		assert.Equal(t, i, s.ShardID)
		assert.NotNil(t, s.Primary)
		assert.Len(t, s.Replicas, 1)
	}

	require.NoError(t, sm.DisconnectAll(context.Background()))
	fake.assertAllClosed(t)
}

func TestShardManager_ConnectAll_FailsOnUnreachableShard(t *testing.T) {
	cfg := testShardingConfig(4)
	fake := newFakeShards()
	fake.failPing[cfg.Shards[2].Primary.ConnectionString()] = true

	sm, err := NewShardManager(cfg, WithOpener(fake.open))
	require.NoError(t, err)

	err = sm.ConnectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard 2")

	// everything opened before the failure is released
	fake.assertAllClosed(t)

	_, err = sm.ShardByID(0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestShardManager_WithShard_RoutesToOwningPrimary(t *testing.T) {
	sm, _ := connectedManager(t, 4)
	defer sm.DisconnectAll(context.Background())

	keys := []string{"user_1", "user_2", "b@x.com", "0190f4c2-7b1e-7c3a-9d2f-1a2b3c4d5e6f"}
	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			want, err := sm.ShardByID(sm.ShardOf(key))
			require.NoError(t, err)

			var got *sql.DB
			err = sm.WithShard(context.Background(), key, func(ctx context.Context, db *sql.DB) error {
				got = db
				return nil
			})
			require.NoError(t, err)
			assert.Same(t, want.Primary, got)
		})
	}
}

func TestShardManager_WithShard_ReturnsErrorVerbatim(t *testing.T) {
	sm, _ := connectedManager(t, 2)
	defer sm.DisconnectAll(context.Background())

	sentinel := errors.New("duplicate key")
	err := sm.WithShard(context.Background(), "k", func(ctx context.Context, db *sql.DB) error {
		return sentinel
	})
	assert.Same(t, sentinel, err)
}

func TestShardManager_WithReplica(t *testing.T) {
	sm, _ := connectedManager(t, 2)
	defer sm.DisconnectAll(context.Background())

	shard, err := sm.ShardByID(sm.ShardOf("reader"))
	require.NoError(t, err)

	var got *sql.DB
	err = sm.WithReplica(context.Background(), "reader", func(ctx context.Context, db *sql.DB) error {
		got = db
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, shard.Replicas[0], got)
}

func TestShard_ReplicaOrPrimary_FallsBack(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Shard{ShardID: 0, Primary: db}
	assert.Same(t, db, s.ReplicaOrPrimary())
}

func TestShardManager_ShardByID(t *testing.T) {
	sm, _ := connectedManager(t, 4)
	defer sm.DisconnectAll(context.Background())

	tests := []struct {
		name    string
		shardID int
		wantErr bool
	}{
		{"Valid shard 0", 0, false},
		{"Valid shard 3", 3, false},
		{"Invalid shard -1", -1, true},
		{"Invalid shard 4", 4, true},
		{"Invalid shard 99", 99, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shard, err := sm.ShardByID(tt.shardID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownShard)
				assert.Nil(t, shard)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.shardID, shard.ShardID)
			}
		})
	}
}

func TestShardManager_NotConnected(t *testing.T) {
	sm, err := NewShardManager(testShardingConfig(2))
	require.NoError(t, err)

	err = sm.WithShard(context.Background(), "k", func(ctx context.Context, db *sql.DB) error {
		t.Fatal("fn must not run before ConnectAll")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, sm.Ping(context.Background()), ErrNotConnected)
	assert.NoError(t, sm.DisconnectAll(context.Background()))
}

func TestShardManager_DisconnectAll_Idempotent(t *testing.T) {
	sm, fake := connectedManager(t, 2)

	require.NoError(t, sm.DisconnectAll(context.Background()))
	require.NoError(t, sm.DisconnectAll(context.Background()))
	fake.assertAllClosed(t)
}

func TestShardManager_ReadersDoNotWaitOnConnect(t *testing.T) {
	fake := newFakeShards()
	fake.gate = make(chan struct{})
	sm, err := NewShardManager(testShardingConfig(2), WithOpener(fake.open))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sm.ConnectAll(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	lookup := make(chan error, 1)
	go func() {
		_, err := sm.ShardByID(0)
		lookup <- err
	}()
	select {
	case err := <-lookup:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("ShardByID blocked behind a connecting shard")
	}
	assert.Empty(t, sm.AllShards())

	close(fake.gate)
	require.NoError(t, <-done)

	shard, err := sm.ShardByID(1)
	require.NoError(t, err)
	assert.Equal(t, 1, shard.ShardID)

	require.NoError(t, sm.DisconnectAll(context.Background()))
	_, err = sm.ShardByID(1)
	assert.ErrorIs(t, err, ErrNotConnected)
	fake.assertAllClosed(t)
}

func TestShardManager_ConcurrentConnectOpensOnce(t *testing.T) {
	fake := newFakeShards()
	sm, err := NewShardManager(testShardingConfig(2), WithOpener(fake.open))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sm.ConnectAll(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, fake.openCalls, "one primary and one replica per shard, opened once")
	require.NoError(t, sm.DisconnectAll(context.Background()))
}
