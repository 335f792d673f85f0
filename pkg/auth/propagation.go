package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Header constants for credentials and for identity propagation to the
// upstream resource service. Values that contain structured data are
// base64url-encoded JSON.
const (
	// HeaderAuthorization carries either a SigV4 credential or a bearer
	// token.
	HeaderAuthorization = "Authorization"

	// HeaderAppID carries the tenant of the admitted caller.
	HeaderAppID = "X-Para-App-Id"

	// HeaderUserID carries the user id on user-authenticated requests.
	HeaderUserID = "X-Para-User-Id"

	// HeaderIdentityType carries [IdentityTypeApp] or [IdentityTypeUser].
	HeaderIdentityType = "X-Para-Identity-Type"

	// HeaderIdentityClaims carries the identity claims.
	//
	// Security: Claims are encoded for transport safety, not for
	// confidentiality. Secrets never appear in claims.
	HeaderIdentityClaims = "X-Para-Identity-Claims"
)

// identityHeaders are set only by the gateway. Incoming copies are dropped
// before forwarding so a client cannot impersonate another caller.
var identityHeaders = []string{HeaderAppID, HeaderUserID, HeaderIdentityType, HeaderIdentityClaims}

// MaxHeaderValueSize is the maximum allowed size in bytes for a serialized
// claims header. 8 KB is accepted by all common HTTP/1.1 and HTTP/2
// servers.
const MaxHeaderValueSize = 8192

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// SerializeClaims encodes a claims map as a base64url-encoded JSON string.
//
// Returns an empty string if claims is nil or empty.
// Returns an error if the claims cannot be marshaled to JSON or if the
// encoded output exceeds [MaxHeaderValueSize].
func SerializeClaims(claims map[string]any) (string, error) {
	if len(claims) == 0 {
		return "", nil
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: failed to marshal claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	if len(encoded) > MaxHeaderValueSize {
		return "", fmt.Errorf("auth: serialized claims size %d exceeds maximum %d bytes", len(encoded), MaxHeaderValueSize)
	}
	return encoded, nil
}

// DeserializeClaims decodes a base64url-encoded JSON string into a claims map.
// Returns an empty map (not nil) if the encoded string is empty.
func DeserializeClaims(encoded string) (map[string]any, error) {
	if encoded == "" {
		return make(map[string]any), nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode claims: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("auth: failed to unmarshal claims: %w", err)
	}
	if claims == nil {
		claims = make(map[string]any)
	}
	return claims, nil
}

// StripIdentityHeaders removes every propagation header from h.
func StripIdentityHeaders(h http.Header) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
}

// SetIdentityHeaders replaces the propagation headers in h with the values
// of identity. A nil identity only strips them.
func SetIdentityHeaders(h http.Header, identity Identity) error {
	StripIdentityHeaders(h)
	if identity == nil {
		return nil
	}
	h.Set(HeaderAppID, identity.AppID())
	h.Set(HeaderIdentityType, string(identity.Type()))
	if identity.Type() == IdentityTypeUser {
		h.Set(HeaderUserID, identity.ID())
	}
	claims, err := SerializeClaims(identity.Claims())
	if err != nil {
		return err
	}
	if claims != "" {
		h.Set(HeaderIdentityClaims, claims)
	}
	return nil
}

// PropagatedIdentity is what an upstream service learns from the headers
// set by [SetIdentityHeaders].
type PropagatedIdentity struct {
	AppID  string
	UserID string
	Type   IdentityType
	Claims map[string]any
}

// IdentityFromHeaders reads the propagation headers. It returns false when
// no identity type is present.
func IdentityFromHeaders(h http.Header) (*PropagatedIdentity, bool, error) {
	typ := IdentityType(h.Get(HeaderIdentityType))
	if typ == "" {
		return nil, false, nil
	}
	if typ != IdentityTypeApp && typ != IdentityTypeUser {
		return nil, false, fmt.Errorf("auth: unknown identity type %q", typ)
	}
	claims, err := DeserializeClaims(h.Get(HeaderIdentityClaims))
	if err != nil {
		return nil, false, err
	}
	return &PropagatedIdentity{
		AppID:  h.Get(HeaderAppID),
		UserID: h.Get(HeaderUserID),
		Type:   typ,
		Claims: claims,
	}, true, nil
}
