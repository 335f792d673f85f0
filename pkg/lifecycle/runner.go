package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/paragate/pkg/lifecycle"

// DefaultShutdownTimeout bounds [Runner.Run]'s call to [Runner.Stop].
const DefaultShutdownTimeout = 15 * time.Second

// StateChangeHandler observes transitions. Handlers run synchronously
// under the runner's state mutex and must not call lifecycle methods on
// the same runner. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Hook runs during a transition. An error aborts the transition and moves
// the runner to [StateFailed]. Hooks run outside the state mutex and may
// call [Runner.State].
type Hook func(ctx context.Context) error

// Info is a point-in-time snapshot of a runner, served by the health
// endpoint.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Runner drives a long-running process through the lifecycle state
// machine. Build one with [RunnerBuilder].
//
// The serve hook is the blocking loop (for example http.Server
// ListenAndServe). It is started in its own goroutine once the start hook
// succeeds. The stop hook must make the serve hook return (for example
// http.Server.Shutdown); [Runner.Stop] waits for it.
type Runner struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	done      chan struct{}
	serveErr  error

	tracer          trace.Tracer
	logger          *slog.Logger
	shutdownTimeout time.Duration

	onStart Hook
	serve   Hook
	onStop  Hook

	stateHandlers []StateChangeHandler
}

func (r *Runner) Name() string    { return r.name }
func (r *Runner) Version() string { return r.version }

// State returns the current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Info returns a snapshot. Uptime is set only while running.
func (r *Runner) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := Info{Name: r.name, Version: r.version, State: r.state}
	if r.startedAt != nil && r.state == StateRunning {
		t := *r.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil while running and a [sserr.CodeNotRunning] error
// otherwise.
func (r *Runner) Health(context.Context) error {
	if state := r.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeNotRunning, "lifecycle: %s is %s", r.name, state)
	}
	return nil
}

// ServeErr returns the error the serve hook exited with, if any.
func (r *Runner) ServeErr() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serveErr
}

// SetState moves the runner to next, notifying handlers. An invalid
// transition returns a [sserr.CodeConflict] error.
func (r *Runner) SetState(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStateLocked(next)
}

func (r *Runner) setStateLocked(next State) error {
	old := r.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	r.state = next

	for _, h := range r.stateHandlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("lifecycle: state change handler panicked",
						"panic", p,
						"runner", r.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

func (r *Runner) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("runner.name", r.name),
			attribute.String("runner.version", r.version),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Start runs the start hook and launches the serve hook. It may be called
// from [StateUnknown], [StateStopped] or [StateFailed]; any other state is
// a [sserr.CodeConflict] error.
func (r *Runner) Start(ctx context.Context) error {
	ctx, span := r.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start canceled before execution"))
	}
	if err := r.SetState(StateStarting); err != nil {
		return fail(span, err)
	}
	r.logger.InfoContext(ctx, "lifecycle: starting", "runner", r.name, "version", r.version)

	if r.onStart != nil {
		if err := r.onStart(ctx); err != nil {
			r.logger.ErrorContext(ctx, "lifecycle: start hook failed", "runner", r.name, "error", err)
			_ = r.SetState(StateFailed)
			return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed"))
		}
	}

	r.mu.Lock()
	if err := r.setStateLocked(StateRunning); err != nil {
		r.mu.Unlock()
		return fail(span, err)
	}
	now := time.Now().UTC()
	r.startedAt = &now
	r.serveErr = nil
	r.done = nil
	if r.serve != nil {
		r.done = make(chan struct{})
		go r.runServe(context.WithoutCancel(ctx), r.done)
	}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "lifecycle: running", "runner", r.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *Runner) runServe(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := r.serve(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.serveErr = err
	if err != nil && r.state == StateRunning {
		r.logger.ErrorContext(ctx, "lifecycle: serve loop failed", "runner", r.name, "error", err)
		_ = r.setStateLocked(StateFailed)
	}
}

// Done is closed when the serve hook returns. It is nil when the runner
// has no serve hook or was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Stop runs the stop hook and waits for the serve hook to return. Stop on
// a terminal state is a no-op. If ctx ends before the serve hook returns,
// the runner moves to [StateFailed].
func (r *Runner) Stop(ctx context.Context) error {
	ctx, span := r.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if r.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop canceled before execution"))
	}
	if err := r.SetState(StateStopping); err != nil {
		return fail(span, err)
	}
	r.logger.InfoContext(ctx, "lifecycle: stopping", "runner", r.name)

	if r.onStop != nil {
		if err := r.onStop(ctx); err != nil {
			r.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "runner", r.name, "error", err)
			_ = r.SetState(StateFailed)
			return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop hook failed"))
		}
	}

	if done := r.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			_ = r.SetState(StateFailed)
			return fail(span, sserr.Wrap(ctx.Err(), sserr.CodeInternal, "lifecycle: serve loop did not exit"))
		}
	}

	r.mu.Lock()
	err := r.setStateLocked(StateStopped)
	r.startedAt = nil
	r.mu.Unlock()
	if err != nil {
		return fail(span, err)
	}

	r.logger.InfoContext(ctx, "lifecycle: stopped", "runner", r.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Run starts the runner, blocks until ctx is done or the serve hook exits,
// then stops within the shutdown timeout. It returns the serve error when
// the loop failed on its own.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-r.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
	defer cancel()
	stopErr := r.Stop(stopCtx)

	if err := r.ServeErr(); err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: serve loop failed")
	}
	return stopErr
}
