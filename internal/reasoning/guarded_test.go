package reasoning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastGuard(retries int) GuardConfig {
	return GuardConfig{
		Timeout:    time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
		Breaker:    BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour, HalfOpenMax: 1},
	}
}

func TestGuarded_RetriesTransient(t *testing.T) {
	transient := errors.New("503 service unavailable")
	lm := &scriptedLM{errs: []error{transient, transient}, replies: []string{"", "", "ok"}}
	g := NewGuarded(lm, fastGuard(2))

	out, err := g.Generate(context.Background(), Prompt{Task: TaskRoute})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, lm.calls())
	assert.Equal(t, CircuitClosed, g.Breakers().State(TaskRoute))
}

func TestGuarded_StopsOnPermanent(t *testing.T) {
	lm := &scriptedLM{errs: []error{errors.New("model not found")}}
	g := NewGuarded(lm, fastGuard(3))

	_, err := g.Generate(context.Background(), Prompt{Task: TaskPlan})
	require.Error(t, err)
	assert.Equal(t, 1, lm.calls())

	var cErr *schema.CopilotError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeReasoning, cErr.Code)
	assert.Contains(t, cErr.Message, "model not found")
}

func TestGuarded_BreakerOpens(t *testing.T) {
	perm := errors.New("model not found")
	lm := &scriptedLM{errs: []error{perm, perm, perm}}
	g := NewGuarded(lm, fastGuard(0))
	ctx := context.Background()

	_, _ = g.Generate(ctx, Prompt{Task: TaskSynthesize})
	_, _ = g.Generate(ctx, Prompt{Task: TaskSynthesize})
	_, err := g.Generate(ctx, Prompt{Task: TaskSynthesize})

	var cErr *schema.CopilotError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, cErr.Code)
	assert.Equal(t, 2, lm.calls(), "open circuit must not reach the backend")
}

type slowLM struct{}

func (slowLM) Name() string { return "slow" }

func (slowLM) Generate(ctx context.Context, _ Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGuarded_AttemptTimeout(t *testing.T) {
	cfg := fastGuard(1)
	cfg.Timeout = 10 * time.Millisecond
	g := NewGuarded(slowLM{}, cfg)

	start := time.Now()
	_, err := g.Generate(context.Background(), Prompt{Task: TaskRoute})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuarded_Observer(t *testing.T) {
	var mu sync.Mutex
	var tasks []string
	var errs []error
	obs := func(task string, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		tasks = append(tasks, task)
		errs = append(errs, err)
	}
	lm := &scriptedLM{replies: []string{"a"}}
	g := NewGuarded(lm, fastGuard(0), WithCallObserver(obs))

	_, err := g.Generate(context.Background(), Prompt{Task: TaskRepairSQL})
	require.NoError(t, err)
	assert.Equal(t, []string{TaskRepairSQL}, tasks)
	assert.Equal(t, []error{nil}, errs)
}

func TestGuarded_RateLimited(t *testing.T) {
	cfg := fastGuard(0)
	cfg.RatePerSec = 50
	cfg.Burst = 1
	lm := &scriptedLM{replies: []string{"x"}}
	g := NewGuarded(lm, cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), Prompt{Task: TaskRoute})
		require.NoError(t, err)
	}
	// Two waits of ~20ms after the initial burst token.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
