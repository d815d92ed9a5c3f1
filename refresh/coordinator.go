// Package refresh coordinates session renewal for authenticated requests.
//
// A Coordinator wraps operations that may fail with an expired session (HTTP
// 401). The first caller to observe the expiry opens a refresh cycle and
// performs the refresh; callers that hit a 401 while the cycle is open wait
// for it instead of refreshing again. When the cycle settles every caller
// replays its operation exactly once, or fails with ErrRefreshFailed.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds a single refresh call.
	DefaultTimeout = 10 * time.Second

	tracerName = "github.com/jmcleod/orion/refresh"
)

// Refresher renews the session. It is called at most once per cycle.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function into a Refresher.
type RefresherFunc func(ctx context.Context) error

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRefreshTimeout bounds each refresh call. Zero disables the bound.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithSessionInvalidated registers a hook fired once per failed cycle. It
// runs before any waiter of that cycle is released, so it must not call
// Execute on the same Coordinator.
func WithSessionInvalidated(fn func(error)) Option {
	return func(c *Coordinator) { c.onInvalidated = fn }
}

// WithLogger sets the logger used for cycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAuthExpired overrides how an operation error is classified as an
// expired session. The default is IsUnauthorized.
func WithAuthExpired(fn func(error) bool) Option {
	return func(c *Coordinator) { c.isAuthExpired = fn }
}

// Coordinator owns the refresh state for one session.
type Coordinator struct {
	refresher     Refresher
	onInvalidated func(error)
	isAuthExpired func(error) bool
	timeout       time.Duration
	logger        zerolog.Logger
	metrics       *Metrics

	mu    sync.Mutex
	cycle *cycle
}

// cycle is one Refreshing period. done is closed exactly once, after err has
// been written.
type cycle struct {
	done    chan struct{}
	err     error
	waiters int
}

// New creates a Coordinator around refresher.
func New(refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher:     refresher,
		isAuthExpired: IsUnauthorized,
		timeout:       DefaultTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refreshing reports whether a refresh cycle is currently open.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle != nil
}

// Execute runs op, and on an expired session refreshes (or waits for the
// refresh in flight) and runs op once more.
func Execute[T any](ctx context.Context, c *Coordinator, op Operation[T]) (T, error) {
	first := op(ctx)
	if first.Err == nil || !c.isAuthExpired(first.Err) {
		return first.unwrap(ErrEmptyResult)
	}

	if err := c.await(ctx, first.Err); err != nil {
		var zero T
		return zero, err
	}

	c.metrics.retry()
	return op(ctx).unwrap(ErrRetryFailed)
}

// await either leads a new cycle or joins the open one, and returns the
// cycle's outcome.
func (c *Coordinator) await(ctx context.Context, cause error) error {
	c.mu.Lock()
	if cy := c.cycle; cy != nil {
		cy.waiters++
		c.mu.Unlock()
		c.metrics.waiter()

		select {
		case <-cy.done:
			return cy.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cy := &cycle{done: make(chan struct{})}
	c.cycle = cy
	c.mu.Unlock()

	c.lead(ctx, cy, cause)
	return cy.err
}

// lead runs the refresh for cy and settles it. The cycle is settled even if
// the refresher panics, so waiters and later callers never block on a dead
// cycle; the panic is re-raised afterwards.
func (c *Coordinator) lead(ctx context.Context, cy *cycle, cause error) {
	start := time.Now()
	c.logger.Debug().Err(cause).Msg("session expired, refreshing")

	rctx, span := otel.Tracer(tracerName).Start(context.WithoutCancel(ctx), "refresh.cycle")
	if c.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, c.timeout)
		defer cancel()
	}

	release := func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
		}

		c.mu.Lock()
		cy.err = err
		waiters := cy.waiters
		c.cycle = nil
		close(cy.done)
		c.mu.Unlock()

		span.SetAttributes(attribute.Int("refresh.waiters", waiters))
		span.End()
		c.metrics.observe(err == nil, time.Since(start))

		if err != nil {
			c.logger.Warn().Err(err).Int("waiters", waiters).Msg("session refresh failed")
			return
		}
		c.logger.Debug().Int("waiters", waiters).Dur("took", time.Since(start)).Msg("session refreshed")
	}

	released := false
	defer func() {
		if released {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit inside the refresher.
			release(&refreshError{cause: errRefreshAborted})
			return
		}
		release(&refreshError{cause: fmt.Errorf("refresh panicked: %v", r)})
		panic(r)
	}()

	err := c.refresher.Refresh(rctx)
	if err != nil {
		err = &refreshError{cause: err}
		// Invalidation must be visible before any waiter observes the failure.
		if c.onInvalidated != nil {
			c.onInvalidated(err)
		}
	}
	released = true
	release(err)
}
