package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/paragate/internal/testutil"
	"github.com/StricklySoft/paragate/internal/testutil/fixtures"
	"github.com/StricklySoft/paragate/pkg/auth"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/lifecycle"
	"github.com/StricklySoft/paragate/pkg/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	srv      *Server
	app      *models.App
	user     *models.User
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := dao.NewMemory()

	app, err := models.NewApp(fixtures.AppID)
	require.NoError(t, err)
	app.Grant(fixtures.UserID, "_me", "GET")
	app.Grant(fixtures.UserID, "items/*", "GET")
	_, err = store.Create(ctx, fixtures.RootApp, app)
	require.NoError(t, err)

	user := models.NewUser(fixtures.UserID)
	user.Email = fixtures.UserEmail
	_, err = store.Create(ctx, fixtures.AppID, user)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := auth.NewMetrics(registry)
	resolver := auth.NewTenantResolver(store, fixtures.RootApp)
	gateway, err := auth.NewGateway(resolver, auth.DefaultGatewayConfig(), auth.WithMetrics(metrics))
	require.NoError(t, err)

	opts := Options{
		Gateway:   gateway,
		Validator: auth.NewTokenValidator(resolver, fixtures.Issuer),
		Metrics:   metrics,
		Gatherer:  registry,
		Store:     store,
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv, err := New(opts)
	require.NoError(t, err)
	return &testEnv{srv: srv, app: app, user: user, registry: registry}
}

func (e *testEnv) signed(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, "http://"+fixtures.Host+path, bytes.NewReader(body))
	auth.NewVerifier(fixtures.Region, fixtures.Service).
		Sign(req, body, fixtures.AppID, e.app.Secret.Value(), time.Now())
	return req
}

func (e *testEnv) bearer(t *testing.T, method, path string) *http.Request {
	t.Helper()
	token, err := auth.NewTokenIssuer(fixtures.Issuer).Issue(e.app, e.user, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, "http://"+fixtures.Host+path, nil)
	req.Header.Set(auth.HeaderAuthorization, "Bearer "+token)
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type stateStub struct{ state lifecycle.State }

func (s stateStub) Info() lifecycle.Info {
	return lifecycle.Info{Name: "paragate", Version: "test", State: s.state}
}

type healthStub struct{ err error }

func (h healthStub) Health(context.Context) error { return h.err }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresGateway(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestNew_DefaultsAPIPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *Options) { o.APIPath = "" })
	assert.Equal(t, auth.DefaultAPIPath, env.srv.apiPath)
}

// ---------------------------------------------------------------------------
// /v1/_me
// ---------------------------------------------------------------------------

func TestMe_App(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(env.signed(t, http.MethodGet, "/v1/_me", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	me := decode[meResponse](t, rec)
	assert.Equal(t, auth.IdentityTypeApp, me.Type)
	assert.Equal(t, fixtures.AppID, me.ID)
	assert.Equal(t, fixtures.AppID, me.AppID)
	assert.Equal(t, true, me.Claims["active"])
	testutil.AssertNoSecret(t, me, env.app.Secret.Value())
	assert.NotContains(t, rec.Body.String(), env.app.Secret.Value())
}

func TestMe_User(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(env.bearer(t, http.MethodGet, "/v1/_me"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	me := decode[meResponse](t, rec)
	assert.Equal(t, auth.IdentityTypeUser, me.Type)
	assert.Equal(t, fixtures.UserID, me.ID)
	assert.Equal(t, fixtures.AppID, me.AppID)
	assert.Equal(t, fixtures.UserEmail, me.Claims["email"])
	assert.Equal(t, fixtures.Issuer, me.Claims["iss"])
	assert.NotContains(t, rec.Body.String(), env.app.Secret.Value())
}

func TestMe_Anonymous(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/_me", nil))
	testutil.RequireRejection(t, rec, http.StatusUnauthorized, "You don't have permission to access this resource. [GET /v1/_me]")
}

func TestMe_UserWithoutGrant(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(env.bearer(t, http.MethodDelete, "/v1/_me"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ---------------------------------------------------------------------------
// API without upstream
// ---------------------------------------------------------------------------

func TestAPI_NoUpstreamAnswers404AfterAdmission(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(env.signed(t, http.MethodGet, "/v1/items/42", nil))
	testutil.RequireRejection(t, rec, http.StatusNotFound, "Not found. [GET /v1/items/42]")
}

func TestAPI_RejectionStopsBeforeRouter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := env.signed(t, http.MethodGet, "/v1/items/42", nil)
	req.Header.Set(auth.HeaderAuthorization, strings.Replace(req.Header.Get(auth.HeaderAuthorization), "Signature=", "Signature=00", 1))

	rec := env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotFound_OutsideAPI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	testutil.RequireRejection(t, rec, http.StatusNotFound, "Not found. [GET /nope]")
}

// ---------------------------------------------------------------------------
// Upstream proxy
// ---------------------------------------------------------------------------

type upstreamSeen struct {
	method, path string
	header       http.Header
	body         []byte
}

func newUpstream(t *testing.T) (*url.URL, <-chan upstreamSeen) {
	t.Helper()
	seen := make(chan upstreamSeen, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- upstreamSeen{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return u, seen
}

func TestProxy_AppRequestCarriesIdentityAndBody(t *testing.T) {
	t.Parallel()
	upstream, seen := newUpstream(t)
	env := newTestEnv(t, func(o *Options) { o.Upstream = upstream })

	body := []byte(`{"name":"widget"}`)
	req := env.signed(t, http.MethodPost, "/v1/items", body)
	req.Header.Set(auth.HeaderUserID, "forged")

	rec := env.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := <-seen
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/items", got.path)
	assert.Equal(t, body, got.body)
	assert.Equal(t, fixtures.AppID, got.header.Get(auth.HeaderAppID))
	assert.Equal(t, string(auth.IdentityTypeApp), got.header.Get(auth.HeaderIdentityType))
	assert.Empty(t, got.header.Get(auth.HeaderUserID), "client supplied identity headers must be dropped")
	assert.NotEmpty(t, got.header.Get("X-Forwarded-For"))
}

func TestProxy_UserRequestCarriesUserID(t *testing.T) {
	t.Parallel()
	upstream, seen := newUpstream(t)
	env := newTestEnv(t, func(o *Options) { o.Upstream = upstream })

	rec := env.do(env.bearer(t, http.MethodGet, "/v1/items/7"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := <-seen
	assert.Equal(t, fixtures.UserID, got.header.Get(auth.HeaderUserID))
	assert.Equal(t, fixtures.AppID, got.header.Get(auth.HeaderAppID))
	assert.Equal(t, string(auth.IdentityTypeUser), got.header.Get(auth.HeaderIdentityType))
}

func TestProxy_DotSegmentPathNeverForwarded(t *testing.T) {
	t.Parallel()
	upstream, seen := newUpstream(t)
	env := newTestEnv(t, func(o *Options) { o.Upstream = upstream })

	for _, path := range []string{"/v1/items/../admin/secrets", "/v1/items/%2e%2e/admin/secrets"} {
		rec := env.do(env.bearer(t, http.MethodGet, path))
		testutil.RequireRejection(t, rec, http.StatusBadRequest,
			"Invalid request path. [GET /v1/items/../admin/secrets]")

		rec = env.do(env.signed(t, http.MethodGet, path, nil))
		testutil.RequireRejection(t, rec, http.StatusBadRequest,
			"Invalid request path. [GET /v1/items/../admin/secrets]")
	}
	select {
	case got := <-seen:
		t.Fatalf("upstream received %s %s", got.method, got.path)
	default:
	}
}

func TestProxy_UpstreamFailureIs502(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	upstream, err := url.Parse(ts.URL)
	require.NoError(t, err)
	ts.Close()

	env := newTestEnv(t, func(o *Options) { o.Upstream = upstream })
	rec := env.do(env.signed(t, http.MethodGet, "/v1/items/1", nil))

	testutil.RequireRejection(t, rec, http.StatusBadGateway, "Bad gateway.")
}

// ---------------------------------------------------------------------------
// /healthz
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		state      lifecycle.State
		storeErr   error
		wantStatus int
		wantStore  string
	}{
		{"running", lifecycle.StateRunning, nil, http.StatusOK, "ok"},
		{"stopping", lifecycle.StateStopping, nil, http.StatusServiceUnavailable, "ok"},
		{"store down", lifecycle.StateRunning, errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, func(o *Options) { o.Store = healthStub{err: tt.storeErr} })
			env.srv.SetStateSource(stateStub{state: tt.state})

			rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decode[healthResponse](t, rec)
			assert.Equal(t, tt.wantStore, resp.Store)
			require.NotNil(t, resp.Runner)
			assert.Equal(t, tt.state, resp.Runner.State)
		})
	}
}

func TestHealth_WithoutStateSource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[healthResponse](t, rec).Runner)
}

// ---------------------------------------------------------------------------
// /metrics
// ---------------------------------------------------------------------------

func TestMetrics_ExposesGatewayDecisions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(env.signed(t, http.MethodGet, "/v1/_me", nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "para_gateway_decisions_total")
	assert.Contains(t, rec.Body.String(), `route="app"`)
}
