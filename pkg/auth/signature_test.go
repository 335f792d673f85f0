package auth

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/paragate/internal/testutil/fixtures"
)

const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func newSignedRequest(t *testing.T, method, target, body string, at time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, "http://"+fixtures.Host+target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	NewVerifier(fixtures.Region, fixtures.Service).Sign(req, []byte(body), fixtures.AppID, fixtures.AppSecret, at)
	return req
}

// ---------------------------------------------------------------------------
// ExtractCredential
// ---------------------------------------------------------------------------

func TestExtractCredential_AuthorizationHeader(t *testing.T) {
	t.Parallel()
	req := newSignedRequest(t, http.MethodPost, "/v1/items", `{"a":1}`, fixtures.Now)

	cred := ExtractCredential(req)
	assert.Equal(t, fixtures.AppID, cred.AccessKey)
	assert.Equal(t, "20250601", cred.DateStamp)
	assert.Equal(t, fixtures.Region, cred.Region)
	assert.Equal(t, fixtures.Service, cred.Service)
	assert.Equal(t, []string{"content-type", "host", "x-amz-date"}, cred.SignedHeaders)
	assert.Len(t, cred.Signature, 64)
	assert.Equal(t, "20250601T120000Z", cred.Date)
	assert.False(t, cred.Presigned)
}

func TestExtractCredential_Presigned(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "http://"+fixtures.Host+"/v1/items?limit=5", nil)
	NewVerifier(fixtures.Region, fixtures.Service).Presign(req, fixtures.AppID, fixtures.AppSecret, fixtures.Now)

	cred := ExtractCredential(req)
	assert.True(t, cred.Presigned)
	assert.Equal(t, fixtures.AppID, cred.AccessKey)
	assert.Equal(t, []string{"host"}, cred.SignedHeaders)
	assert.Equal(t, "20250601T120000Z", cred.Date)
	assert.NotEmpty(t, cred.Signature)
}

func TestExtractCredential_NoAccessKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
	}{
		{"none", ""},
		{"bearer", "Bearer eyJhbGciOiJIUzI1NiJ9.e30.x"},
		{"basic", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/v1/_me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Empty(t, ExtractCredential(req).AccessKey)
		})
	}
}

func TestExtractCredential_MalformedScopeKeepsAccessKey(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=app1, SignedHeaders=host, Signature=00")

	cred := ExtractCredential(req)
	assert.Equal(t, "app1", cred.AccessKey)
	assert.Empty(t, cred.DateStamp)
	assert.Empty(t, cred.Date)
}

func TestExtractCredential_DateFromQuery(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/v1/items?X-Amz-Date=20250601T120000Z", nil)
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=app1/20250601/us-east-1/para/aws4_request")

	assert.Equal(t, "20250601T120000Z", ExtractCredential(req).Date)
}

// ---------------------------------------------------------------------------
// ParseAmzDate
// ---------------------------------------------------------------------------

func TestParseAmzDate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value string
		ok    bool
	}{
		{"20250601T120000Z", true},
		{"2025-06-01T12:00:00Z", false},
		{"20250601", false},
		{"20250601T120000", false},
		{"", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmzDate(tt.value)
		assert.Equal(t, tt.ok, ok, tt.value)
		if tt.ok {
			assert.True(t, got.Equal(fixtures.Now))
		}
	}
}

// ---------------------------------------------------------------------------
// CanonicalRequest
// ---------------------------------------------------------------------------

func TestCanonicalRequest(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "http://api.para.test/v1/items/a%20b?z=1&a=x%2Fy", nil)
	req.Header.Set("X-Amz-Date", "20250601T120000Z")

	got := CanonicalRequest(req, nil, []string{"x-amz-date", "host"})
	want := strings.Join([]string{
		"GET",
		"/v1/items/a%20b",
		"a=x%2Fy&z=1",
		"host:api.para.test\nx-amz-date:20250601T120000Z\n",
		"host;x-amz-date",
		emptySHA256,
	}, "\n")
	assert.Equal(t, want, got)
}

func TestCanonicalRequest_HeaderNormalization(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "http://api.para.test", nil)
	req.Header.Add("X-Custom", "  a   b  ")
	req.Header.Add("X-Custom", "c")

	got := CanonicalRequest(req, nil, []string{"x-custom"})
	assert.Contains(t, got, "\n/\n")
	assert.Contains(t, got, "x-custom:a b,c\n")
}

func TestCanonicalRequest_ExcludesSignatureParam(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "http://api.para.test/v1?X-Amz-Signature=abc&b=2", nil)
	got := CanonicalRequest(req, nil, []string{"host"})
	assert.Contains(t, got, "\nb=2\n")
	assert.NotContains(t, got, "abc")
}

func TestCanonicalRequest_UnsignedPayload(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPut, "http://api.para.test/v1/items", nil)
	req.Header.Set(HeaderAmzContentSHA256, UnsignedPayload)

	got := CanonicalRequest(req, []byte("ignored"), []string{"host"})
	assert.True(t, strings.HasSuffix(got, "\n"+UnsignedPayload))
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerify_SignedRequest(t *testing.T) {
	t.Parallel()
	v := NewVerifier(fixtures.Region, fixtures.Service)
	body := `{"name":"widget"}`
	req := newSignedRequest(t, http.MethodPost, "/v1/items?tag=b&tag=a", body, fixtures.Now)

	assert.True(t, v.Verify(req, []byte(body), ExtractCredential(req), fixtures.AppSecret))
}

func TestVerify_Deterministic(t *testing.T) {
	t.Parallel()
	a := newSignedRequest(t, http.MethodGet, "/v1/items", "", fixtures.Now)
	b := newSignedRequest(t, http.MethodGet, "/v1/items", "", fixtures.Now)
	assert.Equal(t, a.Header.Get("Authorization"), b.Header.Get("Authorization"))
}

func TestVerify_AnyChangeInvalidates(t *testing.T) {
	t.Parallel()
	const body = `{"name":"widget"}`
	tests := []struct {
		name   string
		mutate func(r *http.Request) (body, secret string)
	}{
		{"body", func(r *http.Request) (string, string) { return `{"name":"gadget"}`, fixtures.AppSecret }},
		{"method", func(r *http.Request) (string, string) { r.Method = http.MethodPut; return body, fixtures.AppSecret }},
		{"path", func(r *http.Request) (string, string) { r.URL.Path = "/v1/items/2"; return body, fixtures.AppSecret }},
		{"query", func(r *http.Request) (string, string) { r.URL.RawQuery = "tag=c"; return body, fixtures.AppSecret }},
		{"host", func(r *http.Request) (string, string) { r.Host = "evil.test"; return body, fixtures.AppSecret }},
		{"content type", func(r *http.Request) (string, string) {
			r.Header.Set("Content-Type", "text/plain")
			return body, fixtures.AppSecret
		}},
		{"date", func(r *http.Request) (string, string) {
			r.Header.Set(HeaderAmzDate, "20250601T120001Z")
			return body, fixtures.AppSecret
		}},
		{"secret", func(r *http.Request) (string, string) { return body, fixtures.AltAppSecret }},
		{"empty secret", func(r *http.Request) (string, string) { return body, "" }},
		{"signature not hex", func(r *http.Request) (string, string) {
			r.Header.Set("Authorization", r.Header.Get("Authorization")[:len(r.Header.Get("Authorization"))-2]+"zz")
			return body, fixtures.AppSecret
		}},
	}
	v := NewVerifier(fixtures.Region, fixtures.Service)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := newSignedRequest(t, http.MethodPost, "/v1/items?tag=a", body, fixtures.Now)
			b, secret := tt.mutate(req)
			assert.False(t, v.Verify(req, []byte(b), ExtractCredential(req), secret))
		})
	}
}

func TestVerify_ScopeMismatch(t *testing.T) {
	t.Parallel()
	req := newSignedRequest(t, http.MethodGet, "/v1/items", "", fixtures.Now)
	cred := ExtractCredential(req)

	assert.False(t, NewVerifier("eu-west-1", fixtures.Service).Verify(req, nil, cred, fixtures.AppSecret))
	assert.False(t, NewVerifier(fixtures.Region, "s3").Verify(req, nil, cred, fixtures.AppSecret))

	cred.DateStamp = "20250602"
	assert.False(t, NewVerifier(fixtures.Region, fixtures.Service).Verify(req, nil, cred, fixtures.AppSecret))
}

func TestVerify_RequiresHostAndDateSigned(t *testing.T) {
	t.Parallel()
	v := NewVerifier(fixtures.Region, fixtures.Service)

	for _, headers := range [][]string{{"x-amz-date"}, {"host"}} {
		req := httptest.NewRequest(http.MethodGet, "http://"+fixtures.Host+"/v1/items", nil)
		req.Header.Set(HeaderAmzDate, fixtures.Now.Format(AmzDateFormat))
		sig := v.signature(req, nil, headers, fixtures.Now, fixtures.AppSecret)
		cred := ExtractCredential(req)
		cred.AccessKey = fixtures.AppID
		cred.DateStamp, cred.Region, cred.Service = "20250601", fixtures.Region, fixtures.Service
		cred.SignedHeaders = headers
		cred.Signature = hex.EncodeToString(sig)

		assert.False(t, v.Verify(req, nil, cred, fixtures.AppSecret), "signed headers %v", headers)
	}
}

func TestVerify_MissingDate(t *testing.T) {
	t.Parallel()
	v := NewVerifier(fixtures.Region, fixtures.Service)
	req := newSignedRequest(t, http.MethodGet, "/v1/items", "", fixtures.Now)
	req.Header.Del(HeaderAmzDate)

	assert.False(t, v.Verify(req, nil, ExtractCredential(req), fixtures.AppSecret))
}

func TestVerify_Presigned(t *testing.T) {
	t.Parallel()
	v := NewVerifier(fixtures.Region, fixtures.Service)
	req := httptest.NewRequest(http.MethodGet, "http://"+fixtures.Host+"/v1/items?limit=5", nil)
	v.Presign(req, fixtures.AppID, fixtures.AppSecret, fixtures.Now)

	cred := ExtractCredential(req)
	require.True(t, cred.Presigned)
	assert.True(t, v.Verify(req, nil, cred, fixtures.AppSecret))
	assert.True(t, v.Verify(req, []byte("body is not covered"), cred, fixtures.AppSecret))

	q := req.URL.Query()
	q.Set("limit", "500")
	req.URL.RawQuery = q.Encode()
	assert.False(t, v.Verify(req, nil, ExtractCredential(req), fixtures.AppSecret))
}

func TestNewVerifier_Defaults(t *testing.T) {
	t.Parallel()
	v := NewVerifier("", "")
	assert.Equal(t, DefaultRegion, v.region)
	assert.Equal(t, DefaultService, v.service)
}

func TestURIEscape(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AZaz09-_.~", uriEscape("AZaz09-_.~"))
	assert.Equal(t, "a%20b%2Fc%2B%2A", uriEscape("a b/c+*"))
	assert.Equal(t, "%C3%A9", uriEscape("é"))
}
