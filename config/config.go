package config

import (
	"errors"
	"fmt"
	"time"
)

// Provisioning strategies. Exactly one is active per deployment.
const (
	StrategyHTTP  = "http"
	StrategyEvent = "event"
)

// Shard drivers registered with database/sql.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// Config holds the complete application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Sharding     ShardingConfig     `mapstructure:"sharding"`
	AuthDB       PoolConfig         `mapstructure:"auth_db"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Events       EventsConfig       `mapstructure:"events"`
	CatalogDB    CatalogDBConfig    `mapstructure:"catalog_db"`
	Category     CategoryConfig     `mapstructure:"category"`
	Retry        RetryConfig        `mapstructure:"retry"`
}

// AppConfig identifies the running service
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"` // development, staging, production
}

// ServerConfig configures the HTTP and gRPC listeners
type ServerConfig struct {
	Port            string          `mapstructure:"port"`
	GRPCPort        string          `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-process token bucket
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`  // requests per second
	Burst   int     `mapstructure:"burst"` // bucket size
	// IdleTTL drops the bucket of a client not seen for this long
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// ShardingConfig describes the user-profile shard topology.
// ShardCount is a deployment constant: changing it remaps every key.
type ShardingConfig struct {
	ShardCount      int           `mapstructure:"shard_count"`
	Driver          string        `mapstructure:"driver"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Shards          []ShardConfig `mapstructure:"shards"`
}

// ShardConfig represents configuration for a single shard
type ShardConfig struct {
	ShardID  int              `mapstructure:"shard_id"`
	Primary  DatabaseConfig   `mapstructure:"primary"`
	Replicas []DatabaseConfig `mapstructure:"replicas"`
}

// DatabaseConfig represents a single database connection configuration
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"` // overrides the discrete fields when set
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// PoolConfig configures a pgxpool-backed database
type PoolConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// JWTConfig holds the independent access and refresh signing settings
type JWTConfig struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
	Issuer        string        `mapstructure:"issuer"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

// ProvisioningConfig selects how registration provisions the remote profile
type ProvisioningConfig struct {
	Strategy string                 `mapstructure:"strategy"`
	HTTP     HTTPProvisioningConfig `mapstructure:"http"`
}

// HTTPProvisioningConfig points at the users service
type HTTPProvisioningConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures the event bus connection
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// EventsConfig names the exchange, routing keys and consumer group
type EventsConfig struct {
	Exchange           string        `mapstructure:"exchange"`
	RegisteredKey      string        `mapstructure:"registered_key"`
	UpdatedKey         string        `mapstructure:"updated_key"`
	DeletedKey         string        `mapstructure:"deleted_key"`
	DeadLetterExchange string        `mapstructure:"dead_letter_exchange"`
	FailedKey          string        `mapstructure:"failed_key"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	ConsumerName       string        `mapstructure:"consumer_name"`
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockTimeout       time.Duration `mapstructure:"block_timeout"`
	ClaimMinIdle       time.Duration `mapstructure:"claim_min_idle"`
	ClaimInterval      time.Duration `mapstructure:"claim_interval"`
}

// CatalogDBConfig configures the gorm-backed products/categories store
type CatalogDBConfig struct {
	Dialect         string        `mapstructure:"dialect"` // postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CategoryConfig configures the category RPC client used by the products service
type CategoryConfig struct {
	Addr           string        `mapstructure:"addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the category RPC
type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	FailureThreshold    uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold    uint32        `mapstructure:"success_threshold"`
	HalfOpenMaxRequests uint32        `mapstructure:"half_open_max_requests"`
	ResetTimeout        time.Duration `mapstructure:"reset_timeout"`
}

// RetryConfig configures exponential backoff for the event consumer
type RetryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	JitterEnabled bool          `mapstructure:"jitter_enabled"`
}

// ConnectionString returns a PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	if dc.DSN != "" {
		return dc.DSN
	}
	sslMode := dc.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.User, dc.Password, dc.DBName, sslMode,
	)
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Validate checks the settings every service depends on
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	return c.ValidateSharding()
}

// ValidateSharding checks that the configured endpoints form exactly the
// topology [0, shard_count). Any mismatch is fatal at startup.
func (c *Config) ValidateSharding() error {
	sc := c.Sharding
	if sc.ShardCount <= 0 {
		return fmt.Errorf("sharding.shard_count must be positive, got %d", sc.ShardCount)
	}
	if len(sc.Shards) != sc.ShardCount {
		return fmt.Errorf("sharding.shard_count is %d but %d shard endpoints are configured", sc.ShardCount, len(sc.Shards))
	}
	if sc.Driver != DriverPgx && sc.Driver != DriverPq {
		return fmt.Errorf("unsupported shard driver %q", sc.Driver)
	}

	seen := make(map[int]bool, len(sc.Shards))
	for _, s := range sc.Shards {
		if s.ShardID < 0 || s.ShardID >= sc.ShardCount {
			return fmt.Errorf("shard id %d is outside [0, %d)", s.ShardID, sc.ShardCount)
		}
		if seen[s.ShardID] {
			return fmt.Errorf("shard id %d is configured twice", s.ShardID)
		}
		if s.Primary.Host == "" && s.Primary.DSN == "" {
			return fmt.Errorf("shard %d has no primary host", s.ShardID)
		}
		seen[s.ShardID] = true
	}
	return nil
}

// ValidateAuth checks the settings the auth service cannot start without.
func (c *Config) ValidateAuth() error {
	var errs []error
	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("jwt.access_secret is required"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt.refresh_secret is required"))
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt access and refresh secrets must differ"))
	}
	switch c.Provisioning.Strategy {
	case StrategyHTTP:
		if c.Provisioning.HTTP.BaseURL == "" {
			errs = append(errs, errors.New("provisioning.http.base_url is required for the http strategy"))
		}
	case StrategyEvent:
	default:
		errs = append(errs, fmt.Errorf("unknown provisioning strategy %q", c.Provisioning.Strategy))
	}
	return errors.Join(errs...)
}

// DefaultShards returns the reference 4-shard topology, one replica each
func DefaultShards() []ShardConfig {
	shards := make([]ShardConfig, 0, 4)
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("users_shard%d", i)
		shards = append(shards, ShardConfig{
			ShardID: i,
			Primary: DatabaseConfig{
				Host:     "localhost",
				Port:     5440 + 2*i,
				User:     "postgres",
				Password: "postgres",
				DBName:   name,
			},
			Replicas: []DatabaseConfig{
				{
					Host:     "localhost",
					Port:     5441 + 2*i,
					User:     "postgres",
					Password: "postgres",
					DBName:   name,
				},
			},
		})
	}
	return shards
}
