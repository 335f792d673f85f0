package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// Route defaults.
const (
	DefaultAPIPath      = "/v1"
	DefaultStrictRoute  = `^/v1/.+`
	DefaultRelaxedRoute = `^/v1(/.*)?$`

	// DefaultRequestExpiresAfter is how old a signing date may be.
	DefaultRequestExpiresAfter = 900 * time.Second
)

// Gateway rejection messages.
const (
	msgNoPermission     = "You don't have permission to access this resource. [%s %s]"
	msgUserNoPermission = "You don't have permission to access this resource. [user: %s, resource: %s %s]"
	msgDateNotSet       = "'X-Amz-Date' header or parameter is not set!"
	msgRequestExpired   = "Request has expired."
	msgAppNotFoundID    = "App not found. [%s]"
	msgAppNotActive     = "App not active. [%s]"
	msgAppReadOnly      = "App is in read-only mode. [%s]"
	msgInvalidSignature = "Request signature is invalid."
	msgBodyTooLarge     = "Request body is too large."
	msgBodyUnreadable   = "Request body could not be read."
	msgInvalidPath      = "Invalid request path. [%s %s]"
)

// GatewayConfig holds the gateway's routing and verification settings.
type GatewayConfig struct {
	// APIPath is stripped from request paths to form resource names.
	APIPath string

	// StrictRoute selects app-authenticated requests that carry an
	// access key.
	StrictRoute string

	// RelaxedRoute selects requests without an access key that must carry
	// an active user principal.
	RelaxedRoute string

	// RequestExpiresAfter is the maximum age of a signing date.
	RequestExpiresAfter time.Duration

	// MaxBodyBytes caps the body buffered for signature verification.
	MaxBodyBytes int64

	// Region and Service form the signature credential scope.
	Region  string
	Service string
}

// DefaultGatewayConfig returns the stock routing of the Para API.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		APIPath:             DefaultAPIPath,
		StrictRoute:         DefaultStrictRoute,
		RelaxedRoute:        DefaultRelaxedRoute,
		RequestExpiresAfter: DefaultRequestExpiresAfter,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		Region:              DefaultRegion,
		Service:             DefaultService,
	}
}

// GatewayOption configures a [Gateway].
type GatewayOption func(*Gateway)

// WithGatewayClock overrides the reference time for signing date expiry.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics records decisions in m.
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithGatewayTracer overrides the tracer, which defaults to the global
// provider.
func WithGatewayTracer(tracer trace.Tracer) GatewayOption {
	return func(g *Gateway) { g.tracer = tracer }
}

// Gateway authenticates every request exactly once and publishes the
// resulting [Identity] into the request context. It holds no per-request
// state and is safe for concurrent use.
//
// Classification:
//
//   - access key present and StrictRoute matches: app branch
//   - no access key and RelaxedRoute matches: user branch
//   - anything else: passed through unchanged
//
// A classified request whose path holds a "." or ".." segment is refused
// with 400 before either branch runs, so the resource a grant is checked
// against is always the path the upstream receives. Every branch check
// runs in a fixed order and the first failure is the only reason reported.
type Gateway struct {
	resolver     *TenantResolver
	verifier     *Verifier
	strict       *regexp.Regexp
	relaxed      *regexp.Regexp
	apiPath      string
	expiresAfter time.Duration
	maxBody      int64

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewGateway compiles cfg and returns a gateway resolving tenants through
// resolver. Zero fields of cfg take the values of [DefaultGatewayConfig].
func NewGateway(resolver *TenantResolver, cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	def := DefaultGatewayConfig()
	if cfg.APIPath == "" {
		cfg.APIPath = def.APIPath
	}
	if cfg.StrictRoute == "" {
		cfg.StrictRoute = def.StrictRoute
	}
	if cfg.RelaxedRoute == "" {
		cfg.RelaxedRoute = def.RelaxedRoute
	}
	if cfg.RequestExpiresAfter <= 0 {
		cfg.RequestExpiresAfter = def.RequestExpiresAfter
	}

	strict, err := regexp.Compile(cfg.StrictRoute)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "auth: invalid strict route %q", cfg.StrictRoute)
	}
	relaxed, err := regexp.Compile(cfg.RelaxedRoute)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "auth: invalid relaxed route %q", cfg.RelaxedRoute)
	}

	g := &Gateway{
		resolver:     resolver,
		verifier:     NewVerifier(cfg.Region, cfg.Service),
		strict:       strict,
		relaxed:      relaxed,
		apiPath:      cfg.APIPath,
		expiresAfter: cfg.RequestExpiresAfter,
		maxBody:      cfg.MaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g, nil
}

// Verifier returns the signature verifier, for clients that sign requests
// with the same scope.
func (g *Gateway) Verifier() *Verifier { return g.verifier }

// Evaluate runs the state machine on r. On the app branch the body is
// buffered and re-attached to r.
func (g *Gateway) Evaluate(r *http.Request) Result {
	res, _ := g.evaluate(r)
	return res
}

func (g *Gateway) evaluate(r *http.Request) (Result, *Body) {
	cred := ExtractCredential(r)
	var route Route
	switch {
	case cred.AccessKey != "" && g.strict.MatchString(r.URL.Path):
		route = RouteApp
	case cred.AccessKey == "" && g.relaxed.MatchString(r.URL.Path):
		route = RouteUser
	default:
		return Pass(), nil
	}
	if HasDotSegment(r.URL.Path) {
		return Reject(route, sserr.Newf(sserr.CodeBadRequest, msgInvalidPath, r.Method, r.URL.Path)), nil
	}
	if route == RouteApp {
		return g.appPath(r, cred)
	}
	return g.userPath(r), nil
}

func (g *Gateway) appPath(r *http.Request, cred Credential) (Result, *Body) {
	ctx := r.Context()
	appid := cred.AccessKey

	signedAt, ok := ParseAmzDate(cred.Date)
	if !ok {
		return Reject(RouteApp, sserr.BadRequest(msgDateNotSet).WithDetail("appid", appid)), nil
	}
	if g.now().Sub(signedAt) > g.expiresAfter {
		return Reject(RouteApp, sserr.New(sserr.CodeRequestExpired, msgRequestExpired).WithDetail("appid", appid)), nil
	}

	app, found, err := g.resolver.ResolveApp(ctx, appid)
	if err != nil {
		return Reject(RouteApp, serverFailure(err).WithDetail("appid", appid)), nil
	}
	if !found {
		return Reject(RouteApp, sserr.Newf(sserr.CodeAppNotFound, msgAppNotFoundID, appid)), nil
	}
	if !app.Active {
		return Reject(RouteApp, sserr.Newf(sserr.CodeAppInactive, msgAppNotActive, appid)), nil
	}
	if app.ReadOnly && IsWriteMethod(r.Method) {
		return Reject(RouteApp, sserr.Newf(sserr.CodeAppReadOnly, msgAppReadOnly, appid)), nil
	}

	body, err := ReadBody(r, g.maxBody)
	if err != nil {
		msg := msgBodyUnreadable
		if errors.Is(err, ErrBodyTooLarge) {
			msg = msgBodyTooLarge
		}
		return Reject(RouteApp, sserr.Wrap(err, sserr.CodeBadRequest, msg).WithDetail("appid", appid)), nil
	}
	body.Attach(r)

	if !g.verifier.Verify(r, body.Bytes(), cred, app.Secret.Value()) {
		return Reject(RouteApp, sserr.New(sserr.CodeInvalidSignature, msgInvalidSignature).WithDetail("appid", appid)), body
	}
	return Admit(RouteApp, NewAppIdentity(app)), body
}

func (g *Gateway) userPath(r *http.Request) Result {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok || !principal.Active() {
		return Reject(RouteUser, sserr.Newf(sserr.CodeUnauthorized, msgNoPermission, r.Method, r.URL.Path))
	}

	app := principal.App
	if app == nil {
		resolved, found, err := g.resolver.ResolveApp(ctx, principal.User.AppID)
		if err != nil {
			return Reject(RouteUser, serverFailure(err).WithDetail("user", principal.ID()))
		}
		if !found {
			return Reject(RouteUser, sserr.New(sserr.CodeAppNotFound, msgAppNotFound).WithDetail("user", principal.ID()))
		}
		app = resolved
	}

	resource := ResourceName(r.URL.Path, g.apiPath)
	if !IsAllowed(app.ResourcePermissions, principal.ID(), resource, r.Method) {
		return Reject(RouteUser, sserr.Newf(sserr.CodeForbidden, msgUserNoPermission, principal.ID(), r.Method, r.URL.Path).
			WithDetail("appid", app.Identifier()))
	}
	return Admit(RouteUser, NewUserIdentity(principal.User, app, principal.claims))
}

// Middleware wraps next with the gateway. Rejections are written as JSON
// and next is not called. Admitted requests carry their [Identity] and,
// on the app branch, the buffered [Body] in the context.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := startSpan(r.Context(), g.tracer, "auth.Gateway")
		defer span.End()
		r = r.WithContext(ctx)

		res, body := g.evaluate(r)
		g.metrics.observeDecision(res, time.Since(start))
		span.SetAttributes(
			attribute.String("auth.route", string(res.Route)),
			attribute.String("auth.outcome", res.Outcome()),
		)

		if res.Rejected() {
			finishSpan(span, res.Err)
			g.logRejection(ctx, r, res)
			WriteError(w, res.Err)
			return
		}

		if res.Identity != nil {
			span.SetAttributes(
				attribute.String("auth.identity_id", res.Identity.ID()),
				attribute.String("auth.identity_type", string(res.Identity.Type())),
				attribute.String("auth.appid", res.Identity.AppID()),
			)
			ctx = ContextWithIdentity(ctx, res.Identity)
		}
		if body != nil {
			ctx = ContextWithBody(ctx, body)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) logRejection(ctx context.Context, r *http.Request, res Result) {
	attrs := []any{
		"route", res.Route,
		"method", r.Method,
		"uri", r.URL.Path,
		"code", res.Err.Code,
		"reason", res.Err.Message,
	}
	if appid, ok := res.Err.Details["appid"]; ok {
		attrs = append(attrs, "appid", appid)
	}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	if res.Err.Cause != nil {
		attrs = append(attrs, "error", res.Err.Cause)
	}

	if sserr.IsServerError(res.Err) {
		g.logger.ErrorContext(ctx, "auth: request failed", attrs...)
		return
	}
	g.logger.WarnContext(ctx, "auth: request rejected", attrs...)
}

// String describes the gateway routing for startup logs.
func (g *Gateway) String() string {
	return fmt.Sprintf("gateway{strict=%s relaxed=%s api=%s expires=%s}", g.strict, g.relaxed, g.apiPath, g.expiresAfter)
}
