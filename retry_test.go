package otelz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    10,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}
	require.NoError(t, p.Validate())

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4), "capped at MaxBackoff")
	assert.Equal(t, time.Second, p.Delay(5000), "no overflow")
}

func TestRetryPolicyJitter(t *testing.T) {
	p := DefaultRetryPolicy()
	d := time.Second

	assert.InDelta(t, float64(800*time.Millisecond), float64(p.jittered(d, 0)), float64(time.Microsecond))
	assert.Equal(t, d, p.jittered(d, 0.5))
	assert.InDelta(t, float64(1200*time.Millisecond), float64(p.jittered(d, 0.999999)), float64(time.Millisecond))

	p.Jitter = 0
	assert.Equal(t, d, p.jittered(d, 0))
}

func TestRetryPolicyValidate(t *testing.T) {
	base := DefaultRetryPolicy()
	require.NoError(t, base.Validate())

	cases := map[string]func(p *RetryPolicy){
		"zero attempts":     func(p *RetryPolicy) { p.MaxAttempts = 0 },
		"zero backoff":      func(p *RetryPolicy) { p.InitialBackoff = 0 },
		"max below initial": func(p *RetryPolicy) { p.MaxBackoff = p.InitialBackoff / 2 },
		"shrinking delays":  func(p *RetryPolicy) { p.Multiplier = 0.5 },
		"jitter above one":  func(p *RetryPolicy) { p.Jitter = 1.5 },
		"negative jitter":   func(p *RetryPolicy) { p.Jitter = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)
		})
	}

	_, err := NewRetryingExporter(nil, base)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func newTestRetrying(t *testing.T, next SpanExporter, clock clockz.Clock, opts ...RetryOption) *RetryingExporter {
	t.Helper()
	policy := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		Jitter:         0,
	}
	all := append([]RetryOption{WithRetryClock(clock)}, opts...)
	e, err := NewRetryingExporter(next, policy, all...)
	require.NoError(t, err)
	return e
}

func TestRetryingExporterRetriesTransientFailures(t *testing.T) {
	clock := clockz.NewFakeClock()
	next := &scriptedExporter{failures: 2, failWith: Retryable(errExportFailed)}
	e := newTestRetrying(t, next, clock)

	done := make(chan error, 1)
	go func() {
		done <- e.ExportSpans(context.Background(), []SpanRecord{sampledRecord("a")})
	}()

	require.Eventually(t, func() bool {
		clock.Advance(200 * time.Millisecond)
		clock.BlockUntilReady()
		return next.callCount() == 3
	}, time.Second, time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("export did not finish")
	}
	assert.Equal(t, 3, next.callCount())
	assert.Len(t, next.exported(), 1)
}

func TestRetryingExporterStopsOnPermanentFailure(t *testing.T) {
	next := &scriptedExporter{failures: 5}
	e := newTestRetrying(t, next, clockz.NewFakeClock())

	err := e.ExportSpans(context.Background(), []SpanRecord{sampledRecord("a")})
	assert.ErrorIs(t, err, errExportFailed)
	assert.Equal(t, 1, next.callCount())
}

func TestRetryingExporterGivesUp(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	next := &scriptedExporter{failures: 10, failWith: Retryable(errExportFailed)}
	policy := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
	e, err := NewRetryingExporter(next, policy, WithRetryLogger(zap.New(core)))
	require.NoError(t, err)

	err = e.ExportSpans(context.Background(), []SpanRecord{sampledRecord("a")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errExportFailed)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, next.callCount())
	assert.Equal(t, 1, logs.FilterMessage("span export failed after retries").Len())
}

func TestRetryingExporterHonorsContextDuringBackoff(t *testing.T) {
	clock := clockz.NewFakeClock()
	next := &scriptedExporter{failures: 10, failWith: Retryable(errExportFailed)}
	e := newTestRetrying(t, next, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.ExportSpans(ctx, []SpanRecord{sampledRecord("a")})
	}()

	require.Eventually(t, func() bool { return next.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errExportFailed)
	case <-time.After(time.Second):
		t.Fatal("export ignored cancellation")
	}
	assert.Equal(t, 1, next.callCount())
}

func TestRetryingExporterUsesJitterSource(t *testing.T) {
	next := &scriptedExporter{failures: 2, failWith: Retryable(errExportFailed)}
	policy := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
		Jitter:         0.5,
	}
	draws := 0
	e, err := NewRetryingExporter(next, policy, WithJitterSource(func() float64 {
		draws++
		return 0
	}))
	require.NoError(t, err)

	require.NoError(t, e.ExportSpans(context.Background(), nil))
	assert.Equal(t, 2, draws, "one draw per retry")
}

func TestRetryingExporterDelegatesLifecycle(t *testing.T) {
	next := &scriptedExporter{}
	e := newTestRetrying(t, next, clockz.NewFakeClock())

	require.NoError(t, e.ForceFlush(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 1, next.shutdownCount())
}

func TestIsRetryable(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.False(t, IsRetryable(errExportFailed))

	wrapped := Retryable(errExportFailed)
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, errors.Is(wrapped, errExportFailed))
	assert.Equal(t, errExportFailed.Error(), wrapped.Error())
}
