package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestConfig_Validate_MinimalValid(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"port negative", Config{Port: -1}, "port"},
		{"port too high", Config{Port: 70000}, "port"},
		{"negative pool", Config{PoolSize: -1}, "pool_size"},
		{"negative idle", Config{MinIdleConns: -1}, "min_idle_conns"},
		{"pool below idle", Config{PoolSize: 2, MinIdleConns: 5}, "pool_size (2)"},
		{"negative dial", Config{DialTimeout: -time.Second}, "dial_timeout"},
		{"negative read", Config{ReadTimeout: -time.Second}, "read_timeout"},
		{"negative write", Config{WriteTimeout: -time.Second}, "write_timeout"},
		{"prefix with colon", Config{KeyPrefix: "a:b"}, "key_prefix"},
		{"bad scheme", Config{URI: "http://localhost:6379"}, "scheme"},
		{"no scheme", Config{URI: "localhost:6379"}, "URI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_URI(t *testing.T) {
	t.Parallel()
	for _, uri := range []string{"redis://localhost:6379/0", "rediss://:pw@cache:6380/2"} {
		cfg := Config{URI: uri, Port: 99999}
		require.NoError(t, cfg.Validate(), uri)
		assert.Equal(t, DefaultPoolSize, cfg.PoolSize, "pool defaults apply to URI configs")
	}
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	cfg := Config{URI: "redis://:pw@cache:6380/2"}
	require.NoError(t, cfg.Validate())
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, DefaultPoolSize, opts.PoolSize)

	cfg = Config{Host: "db", Port: 7000, TLSEnabled: true}
	require.NoError(t, cfg.Validate())
	opts, err = cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "db:7000", opts.Addr)
	require.NotNil(t, opts.TLSConfig)
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GET k", truncateStatement("GET k"))
	assert.Equal(t, "", truncateStatement(""))

	long := strings.Repeat("a", 150)
	got := truncateStatement(long)
	assert.Equal(t, maxStatementTruncateLen+3, len(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	multi := strings.Repeat("é", 120)
	assert.Equal(t, maxStatementTruncateLen+3, len([]rune(truncateStatement(multi))))
}
