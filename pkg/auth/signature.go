package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Signature scheme constants. The canonical request built from them is
// part of the wire contract and is versioned by [SigningAlgorithm].
const (
	SigningAlgorithm = "AWS4-HMAC-SHA256"

	// AmzDateFormat is the only accepted layout for the signing date.
	AmzDateFormat = "20060102T150405Z"

	HeaderAmzDate          = "X-Amz-Date"
	HeaderAmzContentSHA256 = "X-Amz-Content-Sha256"

	ParamAmzAlgorithm     = "X-Amz-Algorithm"
	ParamAmzCredential    = "X-Amz-Credential"
	ParamAmzDate          = "X-Amz-Date"
	ParamAmzSignedHeaders = "X-Amz-SignedHeaders"
	ParamAmzSignature     = "X-Amz-Signature"

	// UnsignedPayload in X-Amz-Content-Sha256 excludes the body from the
	// signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	DefaultRegion  = "us-east-1"
	DefaultService = "para"

	scopeTerminator = "aws4_request"
	dateStampFormat = "20060102"
)

// Credential is the signing material a client attached to a request,
// taken from the Authorization header or from presigned query parameters.
type Credential struct {
	// AccessKey is the appid of the signing tenant.
	AccessKey string

	// DateStamp, Region and Service form the credential scope.
	DateStamp string
	Region    string
	Service   string

	// SignedHeaders lists lower-cased header names covered by the
	// signature.
	SignedHeaders []string

	// Signature is the hex HMAC sent by the client.
	Signature string

	// Date is the raw X-Amz-Date value, header first, then query.
	Date string

	// Presigned is true when the credential came from the query string.
	Presigned bool
}

// ExtractCredential reads the signing credential from r. A request with a
// bearer Authorization header and no presigned parameters yields a
// Credential with an empty AccessKey.
func ExtractCredential(r *http.Request) Credential {
	var c Credential
	query := r.URL.Query()

	if h := r.Header.Get(HeaderAuthorization); strings.HasPrefix(h, SigningAlgorithm+" ") {
		for _, part := range strings.Split(strings.TrimPrefix(h, SigningAlgorithm+" "), ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			switch key {
			case "Credential":
				c.parseScope(value)
			case "SignedHeaders":
				c.SignedHeaders = splitSignedHeaders(value)
			case "Signature":
				c.Signature = strings.TrimSpace(value)
			}
		}
	} else if cred := query.Get(ParamAmzCredential); cred != "" {
		c.Presigned = true
		c.parseScope(cred)
		c.SignedHeaders = splitSignedHeaders(query.Get(ParamAmzSignedHeaders))
		c.Signature = query.Get(ParamAmzSignature)
	}

	c.Date = r.Header.Get(HeaderAmzDate)
	if c.Date == "" {
		c.Date = query.Get(ParamAmzDate)
	}
	return c
}

// parseScope splits "<appid>/<yyyymmdd>/<region>/<service>/aws4_request".
// A value with a different shape still yields its access key.
func (c *Credential) parseScope(value string) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	c.AccessKey = strings.TrimSpace(parts[0])
	if len(parts) == 5 && parts[4] == scopeTerminator {
		c.DateStamp, c.Region, c.Service = parts[1], parts[2], parts[3]
	}
}

func splitSignedHeaders(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, h := range strings.Split(value, ";") {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// ParseAmzDate parses a signing date. Any other layout is rejected.
func ParseAmzDate(value string) (time.Time, bool) {
	t, err := time.Parse(AmzDateFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Verifier checks and produces request signatures for one credential
// scope. A Verifier is stateless and safe for concurrent use.
type Verifier struct {
	region  string
	service string
}

// NewVerifier returns a verifier for region and service. Blank values use
// [DefaultRegion] and [DefaultService].
func NewVerifier(region, service string) *Verifier {
	if region == "" {
		region = DefaultRegion
	}
	if service == "" {
		service = DefaultService
	}
	return &Verifier{region: region, service: service}
}

// Verify reports whether cred is a valid signature of r and body under
// secret. It never writes to r and only reports a verdict.
//
// The scope must match the verifier's region and service and the signing
// date. "host" must be signed; header credentials must also sign
// "x-amz-date" (presigned requests sign it through the query string).
func (v *Verifier) Verify(r *http.Request, body []byte, cred Credential, secret string) bool {
	if cred.AccessKey == "" || cred.Signature == "" || secret == "" {
		return false
	}
	t, ok := ParseAmzDate(cred.Date)
	if !ok {
		return false
	}
	if cred.DateStamp != t.Format(dateStampFormat) || cred.Region != v.region || cred.Service != v.service {
		return false
	}
	if !slices.Contains(cred.SignedHeaders, "host") {
		return false
	}
	if !cred.Presigned && !slices.Contains(cred.SignedHeaders, "x-amz-date") {
		return false
	}

	got, err := hex.DecodeString(cred.Signature)
	if err != nil {
		return false
	}
	want := v.signature(r, body, cred.SignedHeaders, t, secret)
	return hmac.Equal(want, got)
}

// Sign adds X-Amz-Date and an Authorization header to r. It signs host,
// x-amz-date and content-type when present.
func (v *Verifier) Sign(r *http.Request, body []byte, accessKey, secret string, t time.Time) {
	t = t.UTC()
	r.Header.Set(HeaderAmzDate, t.Format(AmzDateFormat))

	headers := []string{"host", "x-amz-date"}
	if r.Header.Get("Content-Type") != "" {
		headers = append(headers, "content-type")
	}
	slices.Sort(headers)

	sig := v.signature(r, body, headers, t, secret)
	r.Header.Set(HeaderAuthorization, fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		SigningAlgorithm, accessKey, v.scope(t), strings.Join(headers, ";"), hex.EncodeToString(sig)))
}

// Presign moves the credential into the query string of r, signing only
// the host header. Presigned requests never cover the body.
func (v *Verifier) Presign(r *http.Request, accessKey, secret string, t time.Time) {
	t = t.UTC()
	q := r.URL.Query()
	q.Set(ParamAmzAlgorithm, SigningAlgorithm)
	q.Set(ParamAmzCredential, accessKey+"/"+v.scope(t))
	q.Set(ParamAmzDate, t.Format(AmzDateFormat))
	q.Set(ParamAmzSignedHeaders, "host")
	q.Del(ParamAmzSignature)
	r.URL.RawQuery = q.Encode()

	sig := v.signature(r, nil, []string{"host"}, t, secret)
	q.Set(ParamAmzSignature, hex.EncodeToString(sig))
	r.URL.RawQuery = q.Encode()
}

func (v *Verifier) scope(t time.Time) string {
	return strings.Join([]string{t.Format(dateStampFormat), v.region, v.service, scopeTerminator}, "/")
}

func (v *Verifier) signature(r *http.Request, body []byte, headers []string, t time.Time, secret string) []byte {
	canonical := CanonicalRequest(r, body, headers)
	stringToSign := strings.Join([]string{
		SigningAlgorithm,
		t.Format(AmzDateFormat),
		v.scope(t),
		hexSHA256([]byte(canonical)),
	}, "\n")
	key := signingKey(secret, t.Format(dateStampFormat), v.region, v.service)
	return hmacSHA256(key, []byte(stringToSign))
}

// CanonicalRequest builds the byte string a signature covers:
//
//	METHOD\nURI\nQUERY\nHEADERS\n\nSIGNED-HEADERS\nPAYLOAD-HASH
func CanonicalRequest(r *http.Request, body []byte, headers []string) string {
	signed := slices.Clone(headers)
	slices.Sort(signed)

	var hdrs strings.Builder
	for _, name := range signed {
		hdrs.WriteString(name)
		hdrs.WriteByte(':')
		hdrs.WriteString(headerValue(r, name))
		hdrs.WriteByte('\n')
	}

	return strings.Join([]string{
		strings.ToUpper(r.Method),
		canonicalURI(r.URL),
		canonicalQuery(r.URL.Query()),
		hdrs.String(),
		strings.Join(signed, ";"),
		payloadHash(r, body),
	}, "\n")
}

func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	segments := strings.Split(u.Path, "/")
	for i, s := range segments {
		segments[i] = uriEscape(s)
	}
	return strings.Join(segments, "/")
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != ParamAmzSignature {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var pairs []string
	for _, k := range keys {
		vals := slices.Clone(values[k])
		slices.Sort(vals)
		for _, val := range vals {
			pairs = append(pairs, uriEscape(k)+"="+uriEscape(val))
		}
	}
	return strings.Join(pairs, "&")
}

// headerValue joins repeated headers with "," after trimming and collapsing
// interior whitespace. Go moves Host out of the header map, so it is read
// from the request.
func headerValue(r *http.Request, name string) string {
	if name == "host" {
		if r.Host != "" {
			return r.Host
		}
		return r.URL.Host
	}
	vals := r.Header.Values(name)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, strings.Join(strings.Fields(v), " "))
	}
	return strings.Join(out, ",")
}

func payloadHash(r *http.Request, body []byte) string {
	if r.Header.Get(HeaderAmzContentSHA256) == UnsignedPayload || r.URL.Query().Has(ParamAmzCredential) {
		return UnsignedPayload
	}
	return hexSHA256(body)
}

// uriEscape percent-encodes everything except RFC 3986 unreserved bytes.
func uriEscape(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func signingKey(secret, dateStamp, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte(service))
	return hmacSHA256(k, []byte(scopeTerminator))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
