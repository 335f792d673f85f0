package dao

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// Default breaker settings.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// BreakerConfig configures [Guarded].
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// Failures is the number of consecutive store failures that opens the
	// breaker. Default: 5.
	Failures uint32

	// Timeout is how long the breaker stays open before letting a probe
	// call through. Default: 30s.
	Timeout time.Duration
}

// Guarded wraps a DAO with a circuit breaker. Only store availability
// failures count against the breaker; not-found results, invalid arguments
// and corrupt records do not. While the breaker is open every call fails
// fast with [sserr.CodeStoreCircuitOpen].
type Guarded struct {
	next   DAO
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// Compile-time assertion.
var _ DAO = (*Guarded)(nil)

// NewGuarded wraps next. A nil logger uses slog.Default().
func NewGuarded(next DAO, cfg BreakerConfig, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "tenant-store"
	}
	if cfg.Failures == 0 {
		cfg.Failures = DefaultBreakerFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerTimeout
	}
	g := &Guarded{next: next, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("store circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !sserr.IsStoreFailure(err)
		},
	})
	return g
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) run(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return sserr.Wrap(err, sserr.CodeStoreCircuitOpen, "store: circuit breaker open")
	}
	return err
}

func (g *Guarded) Create(ctx context.Context, appid string, obj models.Object) (string, error) {
	var id string
	err := g.run(func() (err error) {
		id, err = g.next.Create(ctx, appid, obj)
		return err
	})
	return id, err
}

func (g *Guarded) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	var (
		obj models.Object
		ok  bool
	)
	err := g.run(func() (err error) {
		obj, ok, err = g.next.Read(ctx, appid, id)
		return err
	})
	return obj, ok, err
}

func (g *Guarded) Update(ctx context.Context, appid string, obj models.Object) error {
	return g.run(func() error { return g.next.Update(ctx, appid, obj) })
}

func (g *Guarded) Delete(ctx context.Context, appid string, obj models.Object) error {
	return g.run(func() error { return g.next.Delete(ctx, appid, obj) })
}

func (g *Guarded) CreateAll(ctx context.Context, appid string, objs []models.Object) error {
	return g.run(func() error { return g.next.CreateAll(ctx, appid, objs) })
}

func (g *Guarded) ReadAll(ctx context.Context, appid string, ids []string) ([]models.Object, error) {
	var out []models.Object
	err := g.run(func() (err error) {
		out, err = g.next.ReadAll(ctx, appid, ids)
		return err
	})
	return out, err
}

func (g *Guarded) UpdateAll(ctx context.Context, appid string, objs []models.Object) error {
	return g.run(func() error { return g.next.UpdateAll(ctx, appid, objs) })
}

func (g *Guarded) DeleteAll(ctx context.Context, appid string, objs []models.Object) error {
	return g.run(func() error { return g.next.DeleteAll(ctx, appid, objs) })
}

func (g *Guarded) ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error) {
	var out []models.Object
	err := g.run(func() (err error) {
		out, err = g.next.ReadPage(ctx, appid, pager)
		return err
	})
	return out, err
}

// Health checks the wrapped store when it implements [HealthChecker]. An
// open breaker is reported as unhealthy without calling the backend.
func (g *Guarded) Health(ctx context.Context) error {
	if g.cb.State() == gobreaker.StateOpen {
		return sserr.New(sserr.CodeStoreCircuitOpen, "store: circuit breaker open")
	}
	if hc, ok := g.next.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}
