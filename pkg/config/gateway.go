package config

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/StricklySoft/paragate/pkg/auth"
	"github.com/StricklySoft/paragate/pkg/clients/minio"
	"github.com/StricklySoft/paragate/pkg/clients/postgres"
	"github.com/StricklySoft/paragate/pkg/clients/redis"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// EnvPrefix prefixes every gateway environment variable.
const EnvPrefix = "PARA"

// StoreKind selects the Tenant Store backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreRedis    StoreKind = "redis"
	StorePostgres StoreKind = "postgres"
	StoreMinIO    StoreKind = "minio"
)

// Gateway is the process configuration of paragate. Backend sections are
// untagged so their own variables keep their names under the prefix:
// PARA_REDIS_HOST, PARA_POSTGRES_URI, PARA_MINIO_BUCKET.
type Gateway struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr" json:"listen_addr"`

	// APIPath is the prefix stripped from request paths before policy
	// matching.
	APIPath string `env:"API_PATH" envDefault:"/v1" yaml:"api_path" json:"api_path"`

	// StrictRoute selects signed requests for the app branch.
	StrictRoute string `env:"STRICT_ROUTE" envDefault:"^/v1/.+" yaml:"strict_route" json:"strict_route"`

	// RelaxedRoute selects unsigned requests for the user branch.
	RelaxedRoute string `env:"RELAXED_ROUTE" envDefault:"^/v1(/.*)?$" yaml:"relaxed_route" json:"relaxed_route"`

	// RequestExpiresAfterSec is the maximum age of a signing date.
	RequestExpiresAfterSec int `env:"REQUEST_EXPIRES_AFTER_SEC" envDefault:"900" yaml:"request_expires_after_sec" json:"request_expires_after_sec"`

	// MaxBodyBytes caps the body buffered for signature checks.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"10485760" yaml:"max_body_bytes" json:"max_body_bytes"`

	SignatureRegion  string `env:"SIGNATURE_REGION" envDefault:"us-east-1" yaml:"signature_region" json:"signature_region"`
	SignatureService string `env:"SIGNATURE_SERVICE" envDefault:"para" yaml:"signature_service" json:"signature_service"`

	// JWTIssuer is the required iss of bearer tokens.
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"paraio.org" yaml:"jwt_issuer" json:"jwt_issuer"`

	// RootApp is the keyspace holding tenant records.
	RootApp string `env:"ROOT_APP" envDefault:"para" yaml:"root_app" json:"root_app"`

	// Store selects the Tenant Store backend.
	Store StoreKind `env:"STORE" envDefault:"memory" yaml:"store" json:"store"`

	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5" yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s" yaml:"breaker_timeout" json:"breaker_timeout"`

	// UpstreamURL receives admitted /v1 requests. Empty answers them
	// locally.
	UpstreamURL string `env:"UPSTREAM_URL" yaml:"upstream_url" json:"upstream_url"`

	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s" yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level"`

	Redis    redis.Config    `yaml:"redis" json:"redis"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres"`
	MinIO    minio.Config    `yaml:"minio" json:"minio"`
}

// Load reads the gateway configuration from path (optional) and the
// PARA_ environment.
func Load(path string) (*Gateway, error) {
	var cfg Gateway
	if err := New().WithEnvPrefix(EnvPrefix).WithFile(path).Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the gateway settings and the section of the selected
// backend only.
func (c *Gateway) Validate() error {
	c.Store = StoreKind(strings.ToLower(string(c.Store)))

	if c.RequestExpiresAfterSec <= 0 {
		return sserr.Newf(sserr.CodeValidation,
			"config: request_expires_after_sec must be positive, got %d", c.RequestExpiresAfterSec)
	}
	if c.MaxBodyBytes <= 0 {
		return sserr.Newf(sserr.CodeValidation,
			"config: max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if !strings.HasPrefix(c.APIPath, "/") {
		return sserr.Newf(sserr.CodeValidation, "config: api_path must start with '/', got %q", c.APIPath)
	}
	if strings.TrimSpace(c.RootApp) == "" {
		return sserr.New(sserr.CodeValidation, "config: root_app must not be empty")
	}
	for name, expr := range map[string]string{"strict_route": c.StrictRoute, "relaxed_route": c.RelaxedRoute} {
		if _, err := regexp.Compile(expr); err != nil {
			return sserr.Wrapf(err, sserr.CodeValidation, "config: %s is not a valid regular expression", name)
		}
	}
	if c.BreakerFailures == 0 {
		return sserr.New(sserr.CodeValidation, "config: breaker_failures must be at least 1")
	}
	if c.UpstreamURL != "" {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return sserr.Newf(sserr.CodeValidation,
				"config: upstream_url must be an absolute http(s) URL, got %q", c.UpstreamURL)
		}
	}

	var err error
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		err = c.Redis.Validate()
	case StorePostgres:
		err = c.Postgres.Validate()
	case StoreMinIO:
		err = c.MinIO.Validate()
	default:
		return sserr.Newf(sserr.CodeValidation,
			"config: store must be one of memory, redis, postgres, minio, got %q", c.Store)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeValidation, "config: invalid %s settings", c.Store)
	}
	return nil
}

// RequestExpiresAfter returns the signing window as a duration.
func (c *Gateway) RequestExpiresAfter() time.Duration {
	return time.Duration(c.RequestExpiresAfterSec) * time.Second
}

// AuthConfig returns the gateway settings in the form [auth.NewGateway]
// takes.
func (c *Gateway) AuthConfig() auth.GatewayConfig {
	return auth.GatewayConfig{
		APIPath:             c.APIPath,
		StrictRoute:         c.StrictRoute,
		RelaxedRoute:        c.RelaxedRoute,
		RequestExpiresAfter: c.RequestExpiresAfter(),
		MaxBodyBytes:        c.MaxBodyBytes,
		Region:              c.SignatureRegion,
		Service:             c.SignatureService,
	}
}

// BreakerConfig returns the circuit breaker settings for the store.
func (c *Gateway) BreakerConfig() dao.BreakerConfig {
	return dao.BreakerConfig{
		Name:     "tenant-store-" + string(c.Store),
		Failures: c.BreakerFailures,
		Timeout:  c.BreakerTimeout,
	}
}
