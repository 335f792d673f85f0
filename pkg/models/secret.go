package models

import (
	"log/slog"
)

// redacted is the placeholder returned by Secret's string methods.
const redacted = "[REDACTED]"

// Secret holds a tenant's shared signing secret. Its String, GoString and
// LogValue methods return a redacted placeholder so the value cannot leak
// through fmt or slog output. JSON encoding keeps the raw value because the
// store codecs persist it; never serialize an [App] into a response.
type Secret string

// String returns "[REDACTED]".
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for %#v.
func (s Secret) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Value returns the raw secret. Only signature and token verification
// should call it.
func (s Secret) Value() string {
	return string(s)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}
