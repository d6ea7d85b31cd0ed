package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Fire immediately so tests do not wait for wall-clock schedules.
	s.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return s
}

func TestCalculateNextRun(t *testing.T) {
	s := New(nil)
	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"30 2 * * *", time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)},
		{"@hourly", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@every 30m", time.Date(2026, 3, 1, 10, 45, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := s.CalculateNextRun(tc.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := s.CalculateNextRun("not a cron", from)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron")
}

func TestStart_InvalidExpression(t *testing.T) {
	s := newTestScheduler()
	err := s.Start(context.Background(), "61 * * * *", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.NoError(t, s.Stop())
}

func TestStart_RunsJobRepeatedly(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32
	job := func(context.Context) error {
		if runs.Add(1) == 2 {
			return errors.New("boom")
		}
		return nil
	}

	require.NoError(t, s.Start(context.Background(), "@hourly", job))
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	st := s.Stats()
	assert.GreaterOrEqual(t, st.Runs, 3)
	assert.Equal(t, 1, st.Failures)
	assert.False(t, st.LastRunAt.IsZero())
}

func TestStart_Twice(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	job := func(context.Context) error { return nil }

	require.NoError(t, s.Start(context.Background(), "@hourly", job))
	err := s.Start(context.Background(), "@hourly", job)
	assert.ErrorContains(t, err, "already started")
	require.NoError(t, s.Stop())
	assert.False(t, s.Stats().NextRunAt.IsZero())
}

func TestStop_WaitsForInflightRun(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	var finished atomic.Bool
	var once atomic.Bool
	job := func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	}

	require.NoError(t, s.Start(context.Background(), "@hourly", job))
	<-started
	require.NoError(t, s.Stop())
	assert.True(t, finished.Load())
	assert.NoError(t, s.Stop())
}

func TestRun_ReturnsWhenContextEnds(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, "@hourly", func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Stats().Runs)
}
