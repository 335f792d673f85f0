// Package errors provides the coded error taxonomy used by the Para gateway.
// Every rejection the gateway can produce, every Tenant Store failure, and
// every configuration problem is an [*Error] carrying a machine-readable
// [Code] and a fixed human-readable message.
//
// # Error Categories
//
//   - VAL: malformed requests and invalid store arguments (400)
//   - AUTH: no usable credential (401)
//   - AUTHZ: credential present but rejected, including signature and token failures (403)
//   - NF: tenant or record does not exist (404)
//   - CONF: conflicting writes (409)
//   - INT: unexpected failures and misconfiguration (500)
//   - UNAVAIL: the backing store is unreachable (503)
//   - TIMEOUT: the backing store did not answer in time (504)
//
// Store failures always land in UNAVAIL or TIMEOUT so that an outage is
// never reported as an authentication failure.
//
// # Messages
//
// [Error.Message] is the text written to the caller. It must never contain
// raw causes such as cryptographic errors or driver messages; those belong
// in [Error.Cause] and are only logged.
//
// # Usage
//
//	err := errors.New(errors.CodeRequestExpired, "Request has expired.")
//
//	if errors.IsStoreFailure(err) {
//	    // respond 5xx, do not count as an auth failure
//	}
package errors
