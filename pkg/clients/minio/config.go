package minio

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/StricklySoft/paragate/pkg/models"
)

// maxStatementTruncateLen is the maximum length for operation descriptions
// recorded in trace spans.
const maxStatementTruncateLen = 100

// Default configuration settings.
const (
	// DefaultEndpoint is the MinIO API endpoint used when none is configured.
	DefaultEndpoint = "localhost:9000"

	// DefaultRegion is the default S3 region.
	DefaultRegion = "us-east-1"

	// DefaultBucket is the bucket holding every tenant's records.
	DefaultBucket = "para"

	// DefaultHealthTimeout is the maximum time for a health check probe
	// when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultFetchConcurrency bounds parallel object requests in batch
	// operations.
	DefaultFetchConcurrency = 8
)

// bucketNamePattern follows the S3 bucket naming rules.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Config holds the MinIO connection configuration.
type Config struct {
	// Endpoint is the MinIO server host and port.
	// Default: "localhost:9000"
	// Environment variable: MINIO_ENDPOINT
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"MINIO_ENDPOINT"`

	// AccessKey is the access key used to sign requests to MinIO.
	// Environment variable: MINIO_ACCESS_KEY
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" env:"MINIO_ACCESS_KEY"`

	// SecretKey is the secret key paired with AccessKey.
	// Environment variable: MINIO_SECRET_KEY
	SecretKey models.Secret `json:"-" yaml:"-" env:"MINIO_SECRET_KEY"`

	// Region is the S3 region.
	// Default: "us-east-1"
	// Environment variable: MINIO_REGION
	Region string `json:"region,omitempty" yaml:"region,omitempty" env:"MINIO_REGION"`

	// UseSSL enables TLS for the connection to MinIO.
	// Environment variable: MINIO_USE_SSL
	UseSSL bool `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty" env:"MINIO_USE_SSL"`

	// Bucket holds the tenant records, one object per record.
	// Default: "para"
	// Environment variable: MINIO_BUCKET
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty" env:"MINIO_BUCKET"`

	// CreateBucket creates Bucket at startup when it does not exist.
	// Environment variable: MINIO_CREATE_BUCKET
	CreateBucket bool `json:"create_bucket,omitempty" yaml:"create_bucket,omitempty" env:"MINIO_CREATE_BUCKET"`

	// Concurrency bounds parallel object requests in batch operations.
	// Default: 8
	// Environment variable: MINIO_CONCURRENCY
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty" env:"MINIO_CONCURRENCY"`
}

// DefaultConfig returns a Config with default values. Callers set the
// credentials before passing it to [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Endpoint:    DefaultEndpoint,
		Region:      DefaultRegion,
		Bucket:      DefaultBucket,
		Concurrency: DefaultFetchConcurrency,
	}
}

// Validate applies defaults for zero-valued fields and checks the rest.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if !bucketNamePattern.MatchString(c.Bucket) {
		return fmt.Errorf("minio: config bucket %q is not a valid bucket name", c.Bucket)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("minio: config concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultFetchConcurrency
	}
}

// truncateStatement truncates an operation description to
// [maxStatementTruncateLen] runes for inclusion in trace spans.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
