package lifecycle

import (
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// RunnerBuilder constructs a [Runner]. All methods return the builder for
// chaining; [RunnerBuilder.Build] validates it.
//
// Example:
//
//	runner, err := lifecycle.NewRunnerBuilder("paragate", version).
//	    WithOnStart(store.Health).
//	    WithServe(func(context.Context) error { return serveHTTP(srv) }).
//	    WithOnStop(srv.Shutdown).
//	    Build()
type RunnerBuilder struct {
	name            string
	version         string
	logger          *slog.Logger
	tracer          trace.Tracer
	shutdownTimeout time.Duration
	onStart         Hook
	serve           Hook
	onStop          Hook
	stateHandlers   []StateChangeHandler
}

// NewRunnerBuilder starts a builder for a process called name.
func NewRunnerBuilder(name, version string) *RunnerBuilder {
	return &RunnerBuilder{name: name, version: version}
}

func (b *RunnerBuilder) WithLogger(logger *slog.Logger) *RunnerBuilder {
	b.logger = logger
	return b
}

func (b *RunnerBuilder) WithTracer(tracer trace.Tracer) *RunnerBuilder {
	b.tracer = tracer
	return b
}

// WithShutdownTimeout bounds the graceful stop performed by [Runner.Run].
func (b *RunnerBuilder) WithShutdownTimeout(d time.Duration) *RunnerBuilder {
	b.shutdownTimeout = d
	return b
}

// WithOnStart sets the hook run between Starting and Running.
func (b *RunnerBuilder) WithOnStart(hook Hook) *RunnerBuilder {
	b.onStart = hook
	return b
}

// WithServe sets the blocking loop run while Running.
func (b *RunnerBuilder) WithServe(hook Hook) *RunnerBuilder {
	b.serve = hook
	return b
}

// WithOnStop sets the hook run between Stopping and Stopped.
func (b *RunnerBuilder) WithOnStop(hook Hook) *RunnerBuilder {
	b.onStop = hook
	return b
}

// OnStateChange registers an observer. Multiple observers run in
// registration order.
func (b *RunnerBuilder) OnStateChange(handler StateChangeHandler) *RunnerBuilder {
	if handler != nil {
		b.stateHandlers = append(b.stateHandlers, handler)
	}
	return b
}

// Build validates the builder and returns a runner in [StateUnknown].
func (b *RunnerBuilder) Build() (*Runner, error) {
	if strings.TrimSpace(b.name) == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: runner name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: runner version must not be empty")
	}
	if b.shutdownTimeout < 0 {
		return nil, sserr.Newf(sserr.CodeValidation,
			"lifecycle: shutdown timeout must not be negative, got %s", b.shutdownTimeout)
	}

	r := &Runner{
		name:            b.name,
		version:         b.version,
		state:           StateUnknown,
		tracer:          b.tracer,
		logger:          b.logger,
		shutdownTimeout: b.shutdownTimeout,
		onStart:         b.onStart,
		serve:           b.serve,
		onStop:          b.onStop,
		stateHandlers:   append([]StateChangeHandler(nil), b.stateHandlers...),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	if r.shutdownTimeout == 0 {
		r.shutdownTimeout = DefaultShutdownTimeout
	}
	return r, nil
}
