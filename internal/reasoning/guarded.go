package reasoning

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rendis/copilot/pkg/schema"
	"golang.org/x/time/rate"
)

// GuardConfig bounds every call to a backend.
type GuardConfig struct {
	// Timeout caps a single attempt. Zero leaves the caller's deadline alone.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// RetryDelay is the base of the exponential backoff between attempts.
	RetryDelay time.Duration
	// RatePerSec throttles attempts. Zero disables throttling.
	RatePerSec float64
	Burst      int
	Breaker    BreakerConfig
}

// DefaultGuardConfig returns the guard used when nothing is configured.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Burst:      1,
		Breaker:    DefaultBreakerConfig(),
	}
}

// CallObserver is told the outcome of every guarded call.
type CallObserver func(task string, d time.Duration, err error)

// Guarded wraps an LM with a per-task circuit breaker, a rate limiter,
// per-attempt timeouts and retries with backoff.
type Guarded struct {
	inner    LM
	cfg      GuardConfig
	limiter  *rate.Limiter
	breakers *Breakers
	observe  CallObserver
	logger   *slog.Logger
}

// GuardOption configures a Guarded LM.
type GuardOption func(*Guarded)

// WithCallObserver installs a per-call hook, typically metrics.
func WithCallObserver(fn CallObserver) GuardOption {
	return func(g *Guarded) { g.observe = fn }
}

// WithGuardLogger overrides the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guarded) { g.logger = l }
}

// NewGuarded wraps inner.
func NewGuarded(inner LM, cfg GuardConfig, opts ...GuardOption) *Guarded {
	g := &Guarded{
		inner:    inner,
		cfg:      cfg,
		breakers: NewBreakers(cfg.Breaker),
		logger:   slog.Default(),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Name returns the wrapped backend's name.
func (g *Guarded) Name() string {
	return g.inner.Name()
}

// Breakers exposes the circuit state for diagnostics.
func (g *Guarded) Breakers() *Breakers {
	return g.breakers
}

// Generate calls the wrapped LM. Failures come back as REASONING_ERROR or
// CIRCUIT_OPEN CopilotErrors wrapping the last attempt's error.
func (g *Guarded) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := g.breakers.Allow(p.Task); err != nil {
		g.report(p.Task, 0, err)
		return "", err
	}

	attempts := g.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	var reply string
	err := retry.Do(
		func() error {
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			attemptCtx, cancel := g.attemptContext(ctx)
			defer cancel()

			out, err := g.inner.Generate(attemptCtx, p)
			if err != nil {
				return err
			}
			reply = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(g.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.WarnContext(ctx, "reasoning call failed, retrying",
				"task", p.Task, "backend", g.inner.Name(), "attempt", n+1, "error", err)
		}),
	)
	d := time.Since(start)

	if err != nil {
		state := g.breakers.Failure(p.Task)
		wrapped := schema.NewErrorf(schema.ErrCodeReasoning, "%s call to %s failed: %s", p.Task, g.inner.Name(), err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"task": p.Task, "circuit": state.String()})
		g.report(p.Task, d, wrapped)
		return "", wrapped
	}

	g.breakers.Success(p.Task)
	g.report(p.Task, d, nil)
	return reply, nil
}

func (g *Guarded) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

func (g *Guarded) report(task string, d time.Duration, err error) {
	if g.observe != nil {
		g.observe(task, d, err)
	}
}

var _ LM = (*Guarded)(nil)
