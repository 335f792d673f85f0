// Package server assembles the paragate HTTP surface: the auth gateway in
// front of a chi router serving health, metrics, the self-identity route
// and the upstream proxy.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/paragate/pkg/auth"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/lifecycle"
)

// healthTimeout bounds the store probe of a single health request.
const healthTimeout = 2 * time.Second

// StateSource reports the process lifecycle. [lifecycle.Runner] is one.
type StateSource interface {
	Info() lifecycle.Info
}

// Options configures [New]. Gateway is required.
type Options struct {
	Gateway *auth.Gateway

	// Validator enables bearer authentication when set.
	Validator *auth.TokenValidator

	Metrics  *auth.Metrics
	Gatherer prometheus.Gatherer

	// Store is probed by /healthz. Nil reports the store as healthy.
	Store dao.HealthChecker

	// Upstream receives admitted API requests. Nil answers them with 404.
	Upstream  *url.URL
	Transport http.RoundTripper

	Logger  *slog.Logger
	APIPath string
}

// Server is the gateway HTTP handler.
type Server struct {
	router  chi.Router
	logger  *slog.Logger
	store   dao.HealthChecker
	state   StateSource
	apiPath string
}

// New builds the router. The state source is attached later with
// [Server.SetStateSource] because the runner wraps the server.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "server: gateway is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	apiPath := "/" + strings.Trim(opts.APIPath, "/")
	if apiPath == "/" {
		apiPath = auth.DefaultAPIPath
	}

	s := &Server{
		logger:  opts.Logger,
		store:   opts.Store,
		apiPath: apiPath,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.Validator != nil {
		r.Use(auth.BearerMiddleware(opts.Validator, opts.Logger, opts.Metrics))
	}
	r.Use(opts.Gateway.Middleware)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, auth.ErrorResponse{
			Code:    http.StatusMethodNotAllowed,
			Message: "Method not allowed.",
		})
	})

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(opts.Logger.Handler(), slog.LevelError),
	}))
	r.Get(apiPath+"/_me", s.me)

	api := http.HandlerFunc(s.notFound)
	if opts.Upstream != nil {
		api = s.proxy(opts.Upstream, opts.Transport).ServeHTTP
	}
	r.Handle(apiPath, api)
	r.Handle(apiPath+"/*", api)

	s.router = r
	return s, nil
}

// SetStateSource attaches the lifecycle reported by /healthz. It must be
// called before the server handles requests.
func (s *Server) SetStateSource(src StateSource) { s.state = src }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status string          `json:"status"`
	Store  string          `json:"store"`
	Runner *lifecycle.Info `json:"runner,omitempty"`
}

// health is 200 only while the process is running and the store answers.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}

	if s.state != nil {
		info := s.state.Info()
		resp.Runner = &info
		if info.State != lifecycle.StateRunning {
			resp.Status = "unavailable"
		}
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.store.Health(ctx); err != nil {
			s.logger.WarnContext(ctx, "server: store health check failed", "error", err)
			resp.Store = "unavailable"
			resp.Status = "unavailable"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type meResponse struct {
	Type   auth.IdentityType `json:"type"`
	ID     string            `json:"id"`
	AppID  string            `json:"appid"`
	Claims map[string]any    `json:"claims"`
}

// me echoes the bound identity. It is built from claims only; the app
// record holds the tenant secret and is never serialized.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteError(w, sserr.New(sserr.CodeUnauthorized, "Unauthenticated request."))
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Type:   id.Type(),
		ID:     id.ID(),
		AppID:  id.AppID(),
		Claims: id.Claims(),
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	auth.WriteError(w, sserr.Newf(sserr.CodeNotFound, "Not found. [%s %s]", r.Method, r.URL.Path))
}

// proxy forwards to upstream with the identity headers of the request.
func (s *Server) proxy(upstream *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: auth.NewPropagatingRoundTripper(transport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.ErrorContext(r.Context(), "server: upstream request failed",
				"error", err,
				"method", r.Method,
				"uri", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeJSON(w, http.StatusBadGateway, auth.ErrorResponse{
				Code:    http.StatusBadGateway,
				Message: "Bad gateway.",
			})
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
