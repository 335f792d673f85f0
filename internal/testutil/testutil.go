// Package testutil provides shared test helpers for the gateway packages.
//
// Helpers that halt the test use [require]; helpers that only record a
// failure use [assert] and return whether the check passed. Every helper
// calls t.Helper() so failures point at the caller.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code.
//
// Example:
//
//	_, err := store.Create(ctx, "", obj)
//	testutil.RequireErrorCode(t, err, sserr.CodeInvalidArgument)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertErrorCode is the non-halting form of [RequireErrorCode], for table
// rows that should all be checked.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// Rejection mirrors the JSON body the gateway writes for a refused
// request. It is declared here so helpers need not import pkg/auth.
type Rejection struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RequireRejection halts the test unless rec holds a JSON rejection with
// status both in the status line and in the body, and with message.
func RequireRejection(t testing.TB, rec *httptest.ResponseRecorder, status int, message string) Rejection {
	t.Helper()
	require.Equal(t, status, rec.Code, "status mismatch, body: %s", rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got), "body is not a rejection: %s", rec.Body.String())
	require.Equal(t, status, got.Code)
	require.Equal(t, message, got.Message)
	return got
}

// AssertNoSecret fails if secret appears in the JSON form of v. Tenant
// secrets are serialized into store records, so every outward-facing
// value must be checked this way.
func AssertNoSecret(t testing.TB, v any, secret string) bool {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	return assert.NotContains(t, string(data), secret,
		"secret leaked into JSON: %s", string(data))
}
