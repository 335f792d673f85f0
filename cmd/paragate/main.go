// Command paragate runs the multi-tenant auth gateway.
//
// Run with:
//
//	go run ./cmd/paragate -config paragate.yaml
//
// Every setting can be overridden from the environment, for example:
//
//	PARA_STORE=redis PARA_REDIS_HOST=localhost PARA_UPSTREAM_URL=http://localhost:9000 go run ./cmd/paragate
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/StricklySoft/paragate/internal/server"
	"github.com/StricklySoft/paragate/pkg/auth"
	"github.com/StricklySoft/paragate/pkg/clients/minio"
	"github.com/StricklySoft/paragate/pkg/clients/postgres"
	"github.com/StricklySoft/paragate/pkg/clients/redis"
	"github.com/StricklySoft/paragate/pkg/config"
	"github.com/StricklySoft/paragate/pkg/dao"
	"github.com/StricklySoft/paragate/pkg/lifecycle"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("PARA_CONFIG"), "path to a yaml or json config file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("paragate exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("paragate stopped")
}

func run(ctx context.Context, cfg *config.Gateway, logger *slog.Logger) error {
	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	store := dao.NewGuarded(backend, cfg.BreakerConfig(), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := auth.NewMetrics(registry)

	resolver := auth.NewTenantResolver(store, cfg.RootApp)
	gateway, err := auth.NewGateway(resolver, cfg.AuthConfig(),
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	var upstream *url.URL
	if cfg.UpstreamURL != "" {
		// Validated by config.Gateway.Validate.
		upstream, _ = url.Parse(cfg.UpstreamURL)
	}

	srv, err := server.New(server.Options{
		Gateway:   gateway,
		Validator: auth.NewTokenValidator(resolver, cfg.JWTIssuer),
		Metrics:   metrics,
		Gatherer:  registry,
		Store:     store,
		Upstream:  upstream,
		Logger:    logger,
		APIPath:   cfg.APIPath,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	runner, err := lifecycle.NewRunnerBuilder("paragate", version).
		WithLogger(logger).
		WithShutdownTimeout(cfg.ShutdownTimeout).
		WithOnStart(func(ctx context.Context) error {
			if err := store.Health(ctx); err != nil {
				return err
			}
			logger.InfoContext(ctx, "gateway configured",
				"gateway", gateway.String(),
				"store", string(cfg.Store),
				"listen_addr", cfg.ListenAddr,
				"upstream", cfg.UpstreamURL,
			)
			return nil
		}).
		WithServe(func(context.Context) error {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}).
		WithOnStop(httpServer.Shutdown).
		OnStateChange(func(old, new lifecycle.State) {
			logger.Info("state transition", "from", old.String(), "to", new.String())
		}).
		Build()
	if err != nil {
		return err
	}
	srv.SetStateSource(runner)

	return runner.Run(ctx)
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Gateway) (dao.DAO, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewStore(client), func() { _ = client.Close() }, nil

	case config.StorePostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	case config.StoreMinIO:
		client, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		return minio.NewStore(client), client.Close, nil

	default:
		slog.WarnContext(ctx, "using the in-memory tenant store; records are lost on exit")
		return dao.NewMemory(), func() {}, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
