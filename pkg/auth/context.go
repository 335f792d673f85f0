package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	// identityKey stores the Identity bound by the gateway.
	identityKey contextKey = iota

	// principalKey stores the user principal attached before the gateway.
	principalKey

	// bodyKey stores the buffered request body.
	bodyKey
)

// ContextWithIdentity returns a new context with the given Identity attached.
// The gateway calls this on admission; it is the only request state the
// gateway publishes.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the Identity bound by the gateway.
// This function never returns a non-nil identity with false.
//
// Example:
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    // request was passed through without credentials
//	}
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// MustIdentityFromContext retrieves the Identity from the context, panicking
// if no identity is present. Use it only behind the gateway on routes it
// always authenticates.
func MustIdentityFromContext(ctx context.Context) Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure the gateway middleware is configured")
	}
	return identity
}

// ContextWithPrincipal attaches an authenticated user principal. The
// gateway's user branch reads it back with [PrincipalFromContext].
func ContextWithPrincipal(ctx context.Context, principal *UserIdentity) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the user principal, if one was attached.
func PrincipalFromContext(ctx context.Context) (*UserIdentity, bool) {
	p, ok := ctx.Value(principalKey).(*UserIdentity)
	return p, ok && p != nil && p.User != nil
}

// ContextWithBody attaches the buffered request body.
func ContextWithBody(ctx context.Context, body *Body) context.Context {
	return context.WithValue(ctx, bodyKey, body)
}

// BodyFromContext returns the body buffered by the gateway, if any.
func BodyFromContext(ctx context.Context) (*Body, bool) {
	b, ok := ctx.Value(bodyKey).(*Body)
	return b, ok
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
