// Package fixtures provides shared test data for the gateway test suites.
//
// Using common constants for tenants, users and signing material keeps
// magic strings out of tests and lets packages cross-check each other's
// expectations.
package fixtures

import "time"

// Tenant values.
const (
	// RootApp is the keyspace holding tenant records.
	RootApp = "para"

	// AppID is the default tenant for unit tests.
	AppID = "app1"

	// AppSecret is the default tenant secret. Deliberately weak; tests only.
	AppSecret = "s3cr3t-s3cr3t-s3cr3t-s3cr3t-s3cr3t-s3cr3"

	// AltAppID is a second tenant for isolation tests.
	AltAppID = "app2"

	// AltAppSecret is the secret of [AltAppID].
	AltAppSecret = "another-secret-another-secret-another-se"
)

// User values.
const (
	// UserID is the default user inside [AppID].
	UserID = "user-abc-123"

	// UserEmail is the default user's email.
	UserEmail = "user@example.test"

	// InactiveUserID is a user whose account is disabled.
	InactiveUserID = "user-inactive"
)

// Token values.
const (
	// Issuer is the default token issuer.
	Issuer = "paraio.org"

	// OtherIssuer is an issuer that the gateway does not accept.
	OtherIssuer = "evil.example"
)

// Signing values.
const (
	// Region and Service are the SigV4 credential scope used by the
	// gateway.
	Region  = "us-east-1"
	Service = "para"

	// Host is the request host used by signed test requests.
	Host = "api.para.test"
)

// Now is a fixed reference time for signing and token tests.
var Now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Standard configuration values used in config loader tests.
const (
	// TestEnvPrefix is the environment variable prefix for config tests.
	TestEnvPrefix = "TESTAPP"

	// TestConfigYAML is a minimal valid YAML configuration for tests.
	TestConfigYAML = `host: localhost
port: 8080
database: testdb
`

	// TestConfigJSON is a minimal valid JSON configuration for tests.
	TestConfigJSON = `{
  "host": "localhost",
  "port": 8080,
  "database": "testdb"
}`
)
