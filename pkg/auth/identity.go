// Package auth authenticates and authorizes requests against Para tenants.
//
// Two credentials are accepted. App clients sign each request with the
// tenant secret using an AWS Signature V4 style scheme ([Verifier]). End
// users present a bearer token signed with the same secret
// ([TokenValidator]), which [BearerMiddleware] turns into a request-scoped
// principal. The [Gateway] classifies each request, runs exactly one
// evaluation per request and either binds an [Identity] to the request
// context or writes a coded rejection.
//
// All tenant lookups go through a [dao.DAO]; store failures are reported as
// 503 responses and never as authentication failures.
package auth

import (
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// IdentityType distinguishes app-authenticated callers from end users.
type IdentityType string

const (
	// IdentityTypeApp is a client holding the tenant secret.
	IdentityTypeApp IdentityType = "app"

	// IdentityTypeUser is an end user authenticated by a bearer token.
	IdentityTypeUser IdentityType = "user"
)

// Identity is the authenticated caller bound to an admitted request.
type Identity interface {
	// ID returns the appid for app identities and the user id for users.
	ID() string

	// Type returns the kind of caller.
	Type() IdentityType

	// AppID returns the tenant the caller belongs to.
	AppID() string

	// Claims returns caller attributes suitable for propagation and for
	// the self-identity endpoint. The map is a copy.
	Claims() map[string]any
}

// AppIdentity is bound after a valid request signature.
type AppIdentity struct {
	App *models.App
}

// NewAppIdentity wraps a resolved tenant.
func NewAppIdentity(app *models.App) *AppIdentity {
	return &AppIdentity{App: app}
}

func (a *AppIdentity) ID() string         { return a.App.Identifier() }
func (a *AppIdentity) Type() IdentityType { return IdentityTypeApp }
func (a *AppIdentity) AppID() string      { return a.App.Identifier() }

func (a *AppIdentity) Claims() map[string]any {
	return map[string]any{
		"appid":    a.App.Identifier(),
		"name":     a.App.Name,
		"active":   a.App.Active,
		"readOnly": a.App.ReadOnly,
	}
}

// UserIdentity is an end user together with the tenant that verified its
// token. App may be nil when the principal was attached by a mechanism
// that did not resolve the tenant.
type UserIdentity struct {
	User *models.User
	App  *models.App

	claims map[string]any
}

// NewUserIdentity builds a user identity. claims are the verified token
// claims, if any.
func NewUserIdentity(user *models.User, app *models.App, claims map[string]any) *UserIdentity {
	return &UserIdentity{User: user, App: app, claims: claims}
}

func (u *UserIdentity) ID() string         { return u.User.ID }
func (u *UserIdentity) Type() IdentityType { return IdentityTypeUser }

// AppID prefers the verified tenant over the appid stamped on the user.
func (u *UserIdentity) AppID() string {
	if u.App != nil {
		return u.App.Identifier()
	}
	return u.User.AppID
}

// Active reports whether the user account is enabled.
func (u *UserIdentity) Active() bool {
	return u.User != nil && u.User.Active
}

func (u *UserIdentity) Claims() map[string]any {
	out := make(map[string]any, len(u.claims)+4)
	for k, v := range u.claims {
		out[k] = v
	}
	out["sub"] = u.User.ID
	out["appid"] = u.AppID()
	if u.User.Email != "" {
		out["email"] = u.User.Email
	}
	if u.User.Groups != "" {
		out["groups"] = u.User.Groups
	}
	return out
}

// Route is the branch of the gateway state machine a request took.
type Route string

const (
	// RouteNone means the request carried no credential the gateway acts
	// on and was passed through unchanged.
	RouteNone Route = "none"

	// RouteApp is the signed-request branch.
	RouteApp Route = "app"

	// RouteUser is the user principal branch.
	RouteUser Route = "user"
)

// Result is the outcome of one gateway evaluation. Exactly one of three
// shapes is produced:
//
//   - pass: Route is [RouteNone], Identity and Err are nil
//   - admit: Identity is set, Err is nil
//   - reject: Err is set, Identity is nil
type Result struct {
	Route    Route
	Identity Identity
	Err      *sserr.Error
}

// Pass returns the pass-through result.
func Pass() Result { return Result{Route: RouteNone} }

// Admit returns an admission on route bound to id.
func Admit(route Route, id Identity) Result {
	return Result{Route: route, Identity: id}
}

// Reject returns a rejection on route.
func Reject(route Route, err *sserr.Error) Result {
	return Result{Route: route, Err: err}
}

// Rejected reports whether the request must not proceed.
func (r Result) Rejected() bool { return r.Err != nil }

// Outcome is a short label for logs and metrics.
func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return "reject"
	case r.Identity != nil:
		return "admit"
	default:
		return "pass"
	}
}
