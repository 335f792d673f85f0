package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX, where the category selects the HTTP status and the number
// distinguishes the failure for diagnostics and metrics.
//
// Codes are stable once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - 400 Bad Request
//	AUTH_xxx    - 401 Unauthorized
//	AUTHZ_xxx   - 403 Forbidden
//	NF_xxx      - 404 Not Found
//	CONF_xxx    - 409 Conflict
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure, such as an
	// invalid configuration value.
	CodeValidation Code = "VAL_001"

	// CodeBadRequest indicates a missing or unparsable request credential
	// field, most commonly the signing date.
	CodeBadRequest Code = "VAL_002"

	// CodeRequestExpired indicates the signing date lies outside the
	// configured expiry window.
	CodeRequestExpired Code = "VAL_003"

	// CodeInvalidArgument indicates a Tenant Store operation was invoked
	// with an absent record or a blank tenant identifier.
	CodeInvalidArgument Code = "VAL_004"

	// CodeUnauthorized indicates no credential identifies the caller: no
	// access key on an app route, or no active user principal.
	CodeUnauthorized Code = "AUTH_001"

	// CodeForbidden indicates the caller is known but the permission
	// policy denies the request.
	CodeForbidden Code = "AUTHZ_001"

	// CodeInvalidSignature indicates a request signature or token
	// signature did not verify against the tenant secret.
	CodeInvalidSignature Code = "AUTHZ_002"

	// CodeTokenExpired indicates a bearer token has no expiration or an
	// expiration that is not after now.
	CodeTokenExpired Code = "AUTHZ_003"

	// CodeTokenNotYetValid indicates a bearer token has no not-before time
	// or a not-before time in the future.
	CodeTokenNotYetValid Code = "AUTHZ_004"

	// CodeInvalidIssuer indicates a bearer token issuer differs from the
	// configured issuer.
	CodeInvalidIssuer Code = "AUTHZ_005"

	// CodeAppInactive indicates the tenant exists but is deactivated.
	CodeAppInactive Code = "AUTHZ_006"

	// CodeAppReadOnly indicates a mutating request against a read-only
	// tenant.
	CodeAppReadOnly Code = "AUTHZ_007"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeAppNotFound indicates the tenant identifier does not resolve to
	// a tenant record.
	CodeAppNotFound Code = "NF_002"

	// CodeUserNotFound indicates the token subject does not resolve to a
	// user inside the tenant keyspace.
	CodeUserNotFound Code = "NF_003"

	// CodeConflict indicates a write conflicted with the current state.
	CodeConflict Code = "CONF_001"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a store backend returned an
	// unexpected error that is not an availability problem, such as a
	// corrupt record.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeStoreUnavailable indicates the backing store cannot be reached.
	CodeStoreUnavailable Code = "UNAVAIL_001"

	// CodeStoreCircuitOpen indicates calls to the backing store are being
	// refused because the circuit breaker is open.
	CodeStoreCircuitOpen Code = "UNAVAIL_002"

	// CodeNotRunning indicates the process is starting up or shutting down.
	CodeNotRunning Code = "UNAVAIL_003"

	// CodeStoreTimeout indicates a store call exceeded its deadline.
	CodeStoreTimeout Code = "TIMEOUT_001"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTHZ").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
