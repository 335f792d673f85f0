// Package redis provides the Redis-backed Tenant Store. It wraps go-redis
// (github.com/redis/go-redis/v9) with OpenTelemetry tracing and store
// failure classification, and implements [dao.DAO] on top of it.
//
// # Layout
//
// Every tenant owns a disjoint key range under the configured prefix:
//
//	{prefix}:{appid}:obj:{id}   encoded record (string)
//	{prefix}:{appid}:ids        identifier index (sorted set, score 0)
//
// The index is ordered lexicographically, which gives ReadPage the same
// identifier-ascending order as the other backends.
//
// # Configuration
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = models.Secret(os.Getenv("PARA_REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	store := redis.NewStore(client)
//
// For tests, use [NewFromClient] with a miniredis-backed *redis.Client.
package redis

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/paragate/pkg/models"
)

// maxStatementTruncateLen is the maximum length for Redis command statements
// recorded in trace spans.
const maxStatementTruncateLen = 100

// Default connection settings.
const (
	// DefaultHost is the Redis host used when none is configured.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the default Redis database index.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of connections in the pool.
	DefaultPoolSize = 25

	// DefaultMinIdleConns is the minimum number of idle connections
	// maintained in the pool.
	DefaultMinIdleConns = 5

	// DefaultMaxRetries is the maximum number of retries before giving
	// up on a command.
	DefaultMaxRetries = 3

	// DefaultDialTimeout is the maximum time to wait when establishing
	// a new connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout is the maximum time to wait for a read response.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum time to wait for a write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout is the maximum time for a health check ping
	// when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultKeyPrefix namespaces every key written by the store.
	DefaultKeyPrefix = "para"
)

// Config holds the Redis connection configuration. When [Config.URI] is set
// it takes precedence over Host, Port, DB and Password.
type Config struct {
	// URI is a Redis connection string (e.g.,
	// "redis://:password@host:6379/0"). Supports "redis://" and
	// "rediss://" (TLS).
	// Environment variable: REDIS_URI
	URI string `json:"uri,omitempty" yaml:"uri,omitempty" env:"REDIS_URI"`

	// Host is the Redis server hostname or IP address.
	// Default: "localhost"
	// Environment variable: REDIS_HOST
	Host string `json:"host,omitempty" yaml:"host,omitempty" env:"REDIS_HOST"`

	// Port is the Redis server port.
	// Default: 6379
	// Environment variable: REDIS_PORT
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"REDIS_PORT"`

	// DB is the Redis database index.
	// Default: 0
	// Environment variable: REDIS_DB
	DB int `json:"db" yaml:"db" env:"REDIS_DB"`

	// Password is the Redis password.
	// Environment variable: REDIS_PASSWORD
	Password models.Secret `json:"-" yaml:"-" env:"REDIS_PASSWORD"`

	// KeyPrefix namespaces all store keys.
	// Default: "para"
	// Environment variable: REDIS_KEY_PREFIX
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty" env:"REDIS_KEY_PREFIX"`

	// PoolSize is the maximum number of connections in the pool.
	// Default: 25
	// Environment variable: REDIS_POOL_SIZE
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size,omitempty" env:"REDIS_POOL_SIZE"`

	// MinIdleConns is the minimum number of idle connections.
	// Default: 5
	// Environment variable: REDIS_MIN_IDLE_CONNS
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns,omitempty" env:"REDIS_MIN_IDLE_CONNS"`

	// MaxRetries is the maximum number of retries before giving up on
	// a command. Set to -1 to disable retries.
	// Default: 3
	// Environment variable: REDIS_MAX_RETRIES
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" env:"REDIS_MAX_RETRIES"`

	// DialTimeout bounds connection establishment.
	// Default: 10s
	// Environment variable: REDIS_DIAL_TIMEOUT
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty" env:"REDIS_DIAL_TIMEOUT"`

	// ReadTimeout bounds each read.
	// Default: 5s
	// Environment variable: REDIS_READ_TIMEOUT
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" env:"REDIS_READ_TIMEOUT"`

	// WriteTimeout bounds each write.
	// Default: 5s
	// Environment variable: REDIS_WRITE_TIMEOUT
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty" env:"REDIS_WRITE_TIMEOUT"`

	// TLSEnabled enables TLS for structured configuration. A "rediss://"
	// URI enables TLS on its own.
	// Default: false
	// Environment variable: REDIS_TLS_ENABLED
	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled,omitempty" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		KeyPrefix:    DefaultKeyPrefix,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate applies defaults for zero-valued fields and checks the rest.
// Structured fields are not checked when URI is set.
func (c *Config) Validate() error {
	c.applyDefaults()

	if strings.ContainsAny(c.KeyPrefix, ":{} ") {
		return fmt.Errorf("redis: config key_prefix must not contain ':', braces or spaces, got %q", c.KeyPrefix)
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	for name, d := range map[string]time.Duration{
		"dial_timeout":  c.DialTimeout,
		"read_timeout":  c.ReadTimeout,
		"write_timeout": c.WriteTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("redis: config %s must not be negative, got %v", name, d)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement truncates a statement to [maxStatementTruncateLen]
// runes for inclusion in trace spans.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
