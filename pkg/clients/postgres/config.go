package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/StricklySoft/paragate/pkg/models"
)

// maxSQLTruncateLen is the maximum length for SQL statements recorded in
// trace spans.
const maxSQLTruncateLen = 100

// Default connection pool and timeout settings.
const (
	// DefaultHost is the PostgreSQL host used when none is configured.
	DefaultHost = "localhost"

	// DefaultPort is the standard PostgreSQL port.
	DefaultPort = 5432

	// DefaultDatabase is the default database name.
	DefaultDatabase = "para"

	// DefaultUser is the default PostgreSQL user.
	DefaultUser = "postgres"

	// DefaultTable is the table holding every tenant's records.
	DefaultTable = "para_objects"

	// DefaultMaxConns is the maximum number of connections in the pool.
	DefaultMaxConns int32 = 25

	// DefaultMinConns is the minimum number of idle connections maintained.
	DefaultMinConns int32 = 5

	// DefaultMaxConnLifetime is the maximum lifetime of a connection.
	DefaultMaxConnLifetime = time.Hour

	// DefaultMaxConnIdleTime is the maximum idle time of a connection.
	DefaultMaxConnIdleTime = 30 * time.Minute

	// DefaultHealthCheckPeriod is the interval between pool health checks.
	DefaultHealthCheckPeriod = time.Minute

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHealthTimeout is the maximum time for a health check ping
	// when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// tableNamePattern restricts table names to plain identifiers, since the
// name is interpolated into SQL.
var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// SSLMode is the PostgreSQL sslmode connection parameter.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// String returns the string representation of the SSL mode.
func (m SSLMode) String() string {
	return string(m)
}

// Valid reports whether the SSL mode is one of the recognized values.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

// Config holds the PostgreSQL connection configuration. When [Config.URI]
// is set it takes precedence over the structured connection fields.
type Config struct {
	// URI is a PostgreSQL connection string.
	// Environment variable: POSTGRES_URI
	URI string `json:"uri,omitempty" yaml:"uri,omitempty" env:"POSTGRES_URI"`

	// Host is the PostgreSQL server hostname.
	// Default: "localhost"
	// Environment variable: POSTGRES_HOST
	Host string `json:"host,omitempty" yaml:"host,omitempty" env:"POSTGRES_HOST"`

	// Port is the PostgreSQL server port.
	// Default: 5432
	// Environment variable: POSTGRES_PORT
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"POSTGRES_PORT"`

	// Database is the database name.
	// Default: "para"
	// Environment variable: POSTGRES_DATABASE
	Database string `json:"database" yaml:"database" env:"POSTGRES_DATABASE"`

	// User is the database user.
	// Default: "postgres"
	// Environment variable: POSTGRES_USER
	User string `json:"user" yaml:"user" env:"POSTGRES_USER"`

	// Password is the database password.
	// Environment variable: POSTGRES_PASSWORD
	Password models.Secret `json:"-" yaml:"-" env:"POSTGRES_PASSWORD"`

	// SSLMode is the sslmode connection parameter.
	// Default: "require"
	// Environment variable: POSTGRES_SSLMODE
	SSLMode SSLMode `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty" env:"POSTGRES_SSLMODE"`

	// SSLRootCert is the path to a CA certificate used to verify the
	// server.
	// Environment variable: POSTGRES_SSL_ROOT_CERT
	SSLRootCert string `json:"ssl_root_cert,omitempty" yaml:"ssl_root_cert,omitempty" env:"POSTGRES_SSL_ROOT_CERT"`

	// Table is the table holding tenant records.
	// Default: "para_objects"
	// Environment variable: POSTGRES_TABLE
	Table string `json:"table,omitempty" yaml:"table,omitempty" env:"POSTGRES_TABLE"`

	// AutoMigrate creates the table and index at startup.
	// Default: false
	// Environment variable: POSTGRES_AUTO_MIGRATE
	AutoMigrate bool `json:"auto_migrate,omitempty" yaml:"auto_migrate,omitempty" env:"POSTGRES_AUTO_MIGRATE"`

	// MaxConns is the maximum number of pooled connections.
	// Default: 25
	// Environment variable: POSTGRES_MAX_CONNS
	MaxConns int32 `json:"max_conns,omitempty" yaml:"max_conns,omitempty" env:"POSTGRES_MAX_CONNS"`

	// MinConns is the minimum number of idle connections.
	// Default: 5
	// Environment variable: POSTGRES_MIN_CONNS
	MinConns int32 `json:"min_conns,omitempty" yaml:"min_conns,omitempty" env:"POSTGRES_MIN_CONNS"`

	// MaxConnLifetime is the maximum lifetime of a connection.
	// Default: 1h
	// Environment variable: POSTGRES_MAX_CONN_LIFETIME
	MaxConnLifetime time.Duration `json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime,omitempty" env:"POSTGRES_MAX_CONN_LIFETIME"`

	// MaxConnIdleTime is the maximum idle time of a connection.
	// Default: 30m
	// Environment variable: POSTGRES_MAX_CONN_IDLE_TIME
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time,omitempty" yaml:"max_conn_idle_time,omitempty" env:"POSTGRES_MAX_CONN_IDLE_TIME"`

	// HealthCheckPeriod is the interval between pool health checks.
	// Default: 1m
	// Environment variable: POSTGRES_HEALTH_CHECK_PERIOD
	HealthCheckPeriod time.Duration `json:"health_check_period,omitempty" yaml:"health_check_period,omitempty" env:"POSTGRES_HEALTH_CHECK_PERIOD"`

	// ConnectTimeout bounds connection establishment.
	// Default: 10s
	// Environment variable: POSTGRES_CONNECT_TIMEOUT
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty" env:"POSTGRES_CONNECT_TIMEOUT"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Database:          DefaultDatabase,
		User:              DefaultUser,
		SSLMode:           SSLModeRequire,
		Table:             DefaultTable,
		MaxConns:          DefaultMaxConns,
		MinConns:          DefaultMinConns,
		MaxConnLifetime:   DefaultMaxConnLifetime,
		MaxConnIdleTime:   DefaultMaxConnIdleTime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

// Validate applies defaults for zero-valued fields and checks the rest.
// Structured connection fields are not checked when URI is set.
//
// Validation rules for structured config:
//   - Port must be between 1 and 65535
//   - SSLMode must be a recognized value
//   - SSLRootCert (if set) must be a readable file
//   - MaxConns must be >= MinConns
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("postgres: config table %q is not a plain identifier", c.Table)
	}

	if c.URI != "" {
		if _, err := url.Parse(c.URI); err != nil {
			return fmt.Errorf("postgres: config URI is invalid: %w", err)
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
		return fmt.Errorf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModeRequire
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return fmt.Errorf("postgres: config ssl_root_cert %q is not accessible: %w", c.SSLRootCert, err)
		}
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// ConnectionString builds a connection string from the structured fields,
// or returns URI when set. The result contains the password in cleartext.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// tlsConfig builds a *tls.Config trusting SSLRootCert. It returns nil when
// no CA is configured, leaving TLS to the sslmode parameter.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}

	caCert, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read CA certificate %q: %w", c.SSLRootCert, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("postgres: failed to parse CA certificate from %q", c.SSLRootCert)
	}

	tlsCfg := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		tlsCfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Chain only; the hostname is not checked.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server did not present a certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		tlsCfg.InsecureSkipVerify = true
	}
	return tlsCfg, nil
}

// truncateSQL truncates a SQL statement to [maxSQLTruncateLen] characters
// for inclusion in trace spans.
func truncateSQL(sql string) string {
	if len(sql) <= maxSQLTruncateLen {
		return sql
	}
	return sql[:maxSQLTruncateLen] + "..."
}
