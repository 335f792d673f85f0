package auth

import (
	"log/slog"
	"net/http"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// BearerMiddleware returns an HTTP middleware that turns a bearer token
// into the user principal read by the gateway's user branch.
//
// The middleware performs the following steps:
//  1. Extracts the bearer token from the Authorization header
//  2. Validates it with the [TokenValidator]
//  3. Loads the token subject from the tenant's keyspace
//  4. Attaches a [UserIdentity] carrying the user and the verified tenant
//
// Requests without a bearer token pass through untouched. A token that
// fails validation is rejected here with its own coded error; a subject
// that no longer exists attaches nothing, so the gateway answers 401.
//
// Example:
//
//	handler := auth.BearerMiddleware(validator, logger, metrics)(gateway.Middleware(mux))
func BearerMiddleware(validator *TokenValidator, logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			claims, app, err := validator.Validate(ctx, token)
			metrics.observeToken(err)
			if err != nil {
				e := sserr.FromError(err)
				if sserr.IsServerError(e) {
					e = serverFailure(err)
					logger.ErrorContext(ctx, "auth: bearer token check failed", "error", err, "uri", r.URL.Path)
				} else {
					logger.WarnContext(ctx, "auth: bearer token rejected",
						"code", e.Code,
						"reason", e.Message,
						"appid", e.Details["appid"],
						"uri", r.URL.Path,
					)
				}
				WriteError(w, e)
				return
			}

			user, found, err := validator.resolver.ResolveUser(ctx, app.Identifier(), claims.Subject)
			if err != nil {
				logger.ErrorContext(ctx, "auth: bearer subject lookup failed",
					"appid", app.Identifier(),
					"user", claims.Subject,
					"error", err,
				)
				WriteError(w, serverFailure(err))
				return
			}
			if !found {
				logger.WarnContext(ctx, "auth: bearer subject not found",
					"appid", app.Identifier(),
					"user", claims.Subject,
				)
				next.ServeHTTP(w, r)
				return
			}

			principal := NewUserIdentity(user, app, claims.Map())
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, principal)))
		})
	}
}
