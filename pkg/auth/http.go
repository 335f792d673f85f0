package auth

import (
	"log/slog"
	"net/http"
)

// PropagatingRoundTripper wraps an [http.RoundTripper] to forward the
// identity bound by the gateway to the upstream resource service. It reads
// the identity from the request context and replaces the propagation
// headers on a clone of the request.
//
// Propagation headers sent by the client are always removed, so the
// upstream only ever sees values the gateway set.
//
// Example:
//
//	proxy := httputil.NewSingleHostReverseProxy(target)
//	proxy.Transport = auth.NewPropagatingRoundTripper(nil)
type PropagatingRoundTripper struct {
	// wrapped is the underlying RoundTripper that performs the actual HTTP call.
	wrapped http.RoundTripper
}

// NewPropagatingRoundTripper creates a new PropagatingRoundTripper that wraps
// the given transport. If transport is nil, [http.DefaultTransport] is used.
func NewPropagatingRoundTripper(transport http.RoundTripper) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{wrapped: transport}
}

// RoundTrip executes the request with identity headers injected from the
// request context.
//
// RoundTrip implements the [http.RoundTripper] interface.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	identity, _ := IdentityFromContext(r.Context())

	// Clone the request to avoid mutating the original.
	clone := r.Clone(r.Context())
	if err := SetIdentityHeaders(clone.Header, identity); err != nil {
		// The call still goes out, with the plain headers only.
		slog.WarnContext(r.Context(), "auth: failed to serialize identity claims for propagation",
			"error", err,
			"appid", identity.AppID(),
		)
		clone.Header.Del(HeaderIdentityClaims)
	}
	return t.wrapped.RoundTrip(clone)
}
