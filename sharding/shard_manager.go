package sharding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
)

var (
	// ErrUnknownShard means the router produced an id the deployment has no
	// endpoint for. It indicates a configuration mismatch and is never retried.
	ErrUnknownShard = errors.New("unknown shard")
	// ErrNotConnected is returned when a shard is used before ConnectAll.
	ErrNotConnected = errors.New("shards are not connected")
)

// Opener opens a database handle. Replaced in tests.
type Opener func(driver, dsn string) (*sql.DB, error)

// ShardManager manages database shards and their replicas
type ShardManager struct {
	cfg       config.ShardingConfig
	router    *Router
	open      Opener
	log       *zap.Logger
	metrics   *metrics.Metrics
	shards    []*Shard
	connected bool
	// mu guards shards and connected and is never held across I/O.
	// lifecycle serializes ConnectAll and DisconnectAll.
	mu        sync.RWMutex
	lifecycle sync.Mutex
}

// Shard represents a single database shard with primary and replica connections
type Shard struct {
	ShardID  int
	Primary  *sql.DB
	Replicas []*sql.DB
}

// Option configures a ShardManager
type Option func(*ShardManager)

func WithOpener(open Opener) Option {
	return func(sm *ShardManager) { sm.open = open }
}

func WithLogger(l *zap.Logger) Option {
	return func(sm *ShardManager) { sm.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(sm *ShardManager) { sm.metrics = m }
}

// NewShardManager validates the topology and builds the router.
// No connection is made until ConnectAll.
func NewShardManager(cfg config.ShardingConfig, opts ...Option) (*ShardManager, error) {
	if err := (&config.Config{Sharding: cfg}).ValidateSharding(); err != nil {
		return nil, err
	}

	router, err := NewRouter(cfg.ShardCount)
	if err != nil {
		return nil, err
	}

	sm := &ShardManager{
		cfg:    cfg,
		router: router,
		open:   sql.Open,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm, nil
}

// ConnectAll opens and pings every primary and replica. Any unreachable
// endpoint fails the whole call and closes what was already opened: a
// missing shard means some users cannot be served at all.
func (sm *ShardManager) ConnectAll(ctx context.Context) error {
	sm.lifecycle.Lock()
	defer sm.lifecycle.Unlock()

	sm.mu.RLock()
	connected := sm.connected
	sm.mu.RUnlock()
	if connected {
		return nil
	}

	shards := make([]*Shard, sm.cfg.ShardCount)
	closeOpened := func() {
		for _, s := range shards {
			if s == nil {
				continue
			}
			closeShard(s)
		}
	}

	for _, shardCfg := range sm.cfg.Shards {
		shard := &Shard{
			ShardID:  shardCfg.ShardID,
			Replicas: make([]*sql.DB, 0, len(shardCfg.Replicas)),
		}
		shards[shardCfg.ShardID] = shard

		primaryDB, err := sm.connect(ctx, shardCfg.Primary)
		if err != nil {
			closeOpened()
			return fmt.Errorf("failed to connect to primary for shard %d: %w", shardCfg.ShardID, err)
		}
		shard.Primary = primaryDB

		for j, replicaCfg := range shardCfg.Replicas {
			replicaDB, err := sm.connect(ctx, replicaCfg)
			if err != nil {
				closeOpened()
				return fmt.Errorf("failed to connect to replica %d for shard %d: %w", j, shardCfg.ShardID, err)
			}
			shard.Replicas = append(shard.Replicas, replicaDB)
		}

		sm.log.Info("Shard connected",
			zap.Int("shard_id", shardCfg.ShardID),
			zap.Int("replicas", len(shard.Replicas)),
		)
	}

	sm.mu.Lock()
	sm.shards = shards
	sm.connected = true
	sm.mu.Unlock()
	return nil
}

func (sm *ShardManager) connect(ctx context.Context, dbCfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sm.open(sm.cfg.Driver, dbCfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	if sm.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(sm.cfg.MaxOpenConns)
	}
	if sm.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(sm.cfg.MaxIdleConns)
	}
	if sm.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(sm.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func closeShard(s *Shard) {
	if s.Primary != nil {
		s.Primary.Close()
	}
	for _, r := range s.Replicas {
		r.Close()
	}
}

// DisconnectAll closes every connection. Each close is bounded by
// close_timeout; a hanging close is logged and skipped so shutdown is
// never blocked by one shard. Close errors are joined and returned.
func (sm *ShardManager) DisconnectAll(ctx context.Context) error {
	sm.lifecycle.Lock()
	defer sm.lifecycle.Unlock()

	sm.mu.Lock()
	shards, connected := sm.shards, sm.connected
	sm.shards = nil
	sm.connected = false
	sm.mu.Unlock()

	if !connected {
		return nil
	}

	var errs []error
	for _, shard := range shards {
		if err := sm.closeBounded(ctx, shard.Primary, shard.ShardID, "primary"); err != nil {
			errs = append(errs, fmt.Errorf("failed to close primary for shard %d: %w", shard.ShardID, err))
		}
		for i, replica := range shard.Replicas {
			if err := sm.closeBounded(ctx, replica, shard.ShardID, fmt.Sprintf("replica-%d", i)); err != nil {
				errs = append(errs, fmt.Errorf("failed to close replica %d for shard %d: %w", i, shard.ShardID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (sm *ShardManager) closeBounded(ctx context.Context, db *sql.DB, shardID int, role string) error {
	timeout := sm.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- db.Close() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	case <-ctx.Done():
	}
	sm.log.Warn("Shard close did not finish in time, skipping",
		zap.Int("shard_id", shardID),
		zap.String("role", role),
		zap.Duration("timeout", timeout),
	)
	return nil
}

// ShardOf returns the shard id for key
func (sm *ShardManager) ShardOf(key string) int {
	return sm.router.ShardOf(key)
}

// WithShard runs fn against the primary of the shard owning key and returns
// fn's error unchanged.
func (sm *ShardManager) WithShard(ctx context.Context, key string, fn func(ctx context.Context, db *sql.DB) error) error {
	shard, err := sm.ShardByID(sm.router.ShardOf(key))
	if err != nil {
		return err
	}
	sm.metrics.ShardOperation(shard.ShardID)
	return fn(ctx, shard.Primary)
}

// WithReplica runs fn against a random replica of the shard owning key,
// falling back to the primary when the shard has none. Reads may be stale.
func (sm *ShardManager) WithReplica(ctx context.Context, key string, fn func(ctx context.Context, db *sql.DB) error) error {
	shard, err := sm.ShardByID(sm.router.ShardOf(key))
	if err != nil {
		return err
	}
	sm.metrics.ShardOperation(shard.ShardID)
	return fn(ctx, shard.ReplicaOrPrimary())
}

// ReplicaOrPrimary picks a random replica, or the primary when there is none
func (s *Shard) ReplicaOrPrimary() *sql.DB {
	if len(s.Replicas) == 0 {
		return s.Primary
	}
	return s.Replicas[rand.Intn(len(s.Replicas))]
}

// ShardByID returns a specific shard by its ID
func (sm *ShardManager) ShardByID(shardID int) (*Shard, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.connected {
		return nil, ErrNotConnected
	}
	if shardID < 0 || shardID >= len(sm.shards) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}
	return sm.shards[shardID], nil
}

// AllShards returns a copy of the shard list, ordered by shard id.
// Used for schema setup and monitoring fan-out.
func (sm *ShardManager) AllShards() []*Shard {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	shardsCopy := make([]*Shard, len(sm.shards))
	copy(shardsCopy, sm.shards)
	return shardsCopy
}

// Ping checks every primary; used by the health endpoint
func (sm *ShardManager) Ping(ctx context.Context) error {
	shards := sm.AllShards()
	if len(shards) == 0 {
		return ErrNotConnected
	}
	for _, s := range shards {
		if err := s.Primary.PingContext(ctx); err != nil {
			return fmt.Errorf("shard %d: %w", s.ShardID, err)
		}
	}
	return nil
}

// NumShards returns the total number of shards
func (sm *ShardManager) NumShards() int {
	return sm.router.NumShards()
}
