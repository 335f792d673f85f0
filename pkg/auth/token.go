package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/StricklySoft/paragate/pkg/auth"

const (
	// DefaultIssuer is the expected "iss" claim.
	DefaultIssuer = "paraio.org"

	// DefaultTokenTTL is the validity of issued tokens when none is given.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// maxTokenSize is the maximum accepted token length in bytes.
	maxTokenSize = 8192
)

// Token validator messages.
const (
	msgAppNotFound      = "App not found."
	msgInvalidTokenSig  = "Invalid token signature."
	msgExpiredToken     = "Expired token."
	msgInvalidNotBefore = "Invalid 'nbf' claim."
	msgInvalidIssuer    = "Invalid issuer."
)

// hmacMethods are the accepted token algorithms. Anything else, "none"
// included, fails signature verification.
var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Claims are the bearer token claims. AppID names the tenant whose secret
// signed the token.
type Claims struct {
	jwt.RegisteredClaims
	AppID string `json:"appid"`
}

// Map returns the claims as a generic map for identity propagation.
func (c *Claims) Map() map[string]any {
	out := map[string]any{
		"sub":   c.Subject,
		"appid": c.AppID,
		"iss":   c.Issuer,
	}
	if c.ExpiresAt != nil {
		out["exp"] = c.ExpiresAt.Unix()
	}
	if c.NotBefore != nil {
		out["nbf"] = c.NotBefore.Unix()
	}
	if c.IssuedAt != nil {
		out["iat"] = c.IssuedAt.Unix()
	}
	return out
}

// TokenOption configures a [TokenValidator] or [TokenIssuer].
type TokenOption func(*tokenOptions)

type tokenOptions struct {
	now    func() time.Time
	tracer trace.Tracer
}

// WithTokenClock overrides the reference time used for exp and nbf.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(o *tokenOptions) { o.now = now }
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(tracer trace.Tracer) TokenOption {
	return func(o *tokenOptions) { o.tracer = tracer }
}

func newTokenOptions(opts []TokenOption) tokenOptions {
	o := tokenOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// TokenValidator verifies bearer tokens against the secret of the tenant
// named in the token.
//
// Checks run in a fixed order and the first failure is reported:
//
//  1. tenant lookup ([sserr.CodeAppNotFound])
//  2. HMAC signature ([sserr.CodeInvalidSignature])
//  3. exp present and after now ([sserr.CodeTokenExpired])
//  4. nbf present and not after now ([sserr.CodeTokenNotYetValid])
//  5. iss equal to the configured issuer ([sserr.CodeInvalidIssuer])
//
// A store failure during the lookup is returned unchanged.
type TokenValidator struct {
	resolver *TenantResolver
	issuer   string
	opts     tokenOptions
}

// NewTokenValidator returns a validator that resolves tenants through
// resolver. A blank issuer means [DefaultIssuer].
func NewTokenValidator(resolver *TenantResolver, issuer string, opts ...TokenOption) *TokenValidator {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenValidator{resolver: resolver, issuer: issuer, opts: newTokenOptions(opts)}
}

// Issuer returns the expected issuer.
func (v *TokenValidator) Issuer() string { return v.issuer }

// Validate verifies tokenStr and returns its claims together with the
// tenant that signed it.
func (v *TokenValidator) Validate(ctx context.Context, tokenStr string) (*Claims, *models.App, error) {
	ctx, span := startSpan(ctx, v.opts.tracer, "auth.ValidateToken")
	defer span.End()

	claims, app, err := v.validate(ctx, tokenStr)
	if err != nil {
		finishSpan(span, err)
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("auth.appid", claims.AppID),
		attribute.String("auth.subject", claims.Subject),
	)
	return claims, app, nil
}

func (v *TokenValidator) validate(ctx context.Context, tokenStr string) (*Claims, *models.App, error) {
	if tokenStr == "" || len(tokenStr) > maxTokenSize {
		return nil, nil, sserr.New(sserr.CodeInvalidSignature, msgInvalidTokenSig)
	}

	// The appid has to be read before the secret that verifies it is known.
	peek := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, peek); err != nil {
		return nil, nil, sserr.Wrap(err, sserr.CodeInvalidSignature, msgInvalidTokenSig)
	}

	app, ok, err := v.resolver.ResolveApp(ctx, peek.AppID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, sserr.New(sserr.CodeAppNotFound, msgAppNotFound).WithDetail("appid", peek.AppID)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		if app.Secret.IsZero() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(app.Secret.Value()), nil
	}, jwt.WithValidMethods(hmacMethods), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, nil, sserr.Wrap(err, sserr.CodeInvalidSignature, msgInvalidTokenSig).WithDetail("appid", peek.AppID)
	}

	now := v.opts.now()
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(now) {
		return nil, nil, sserr.New(sserr.CodeTokenExpired, msgExpiredToken)
	}
	if claims.NotBefore == nil || claims.NotBefore.After(now) {
		return nil, nil, sserr.New(sserr.CodeTokenNotYetValid, msgInvalidNotBefore)
	}
	if claims.Issuer != v.issuer {
		return nil, nil, sserr.New(sserr.CodeInvalidIssuer, msgInvalidIssuer)
	}
	return claims, app, nil
}

// TokenIssuer signs bearer tokens for tenant users.
type TokenIssuer struct {
	issuer string
	opts   tokenOptions
}

// NewTokenIssuer returns an issuer stamping iss. A blank issuer means
// [DefaultIssuer].
func NewTokenIssuer(issuer string, opts ...TokenOption) *TokenIssuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenIssuer{issuer: issuer, opts: newTokenOptions(opts)}
}

// Issue returns an HS256 token for user signed with the app secret. The
// token is valid from now for ttl; ttl <= 0 means [DefaultTokenTTL].
func (i *TokenIssuer) Issue(app *models.App, user *models.User, ttl time.Duration) (string, error) {
	if app == nil || app.Secret.IsZero() {
		return "", sserr.New(sserr.CodeInternalConfiguration, "auth: app secret is not set")
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", sserr.InvalidArgument("auth: token subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := i.opts.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AppID: app.Identifier(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(app.Secret.Value()))
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "auth: signing token")
	}
	return signed, nil
}

// startSpan creates a new OpenTelemetry span with the given name.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on the span and marks it failed. Nil errors are
// ignored.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
