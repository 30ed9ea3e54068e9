package otelz

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RetryPolicy is exponential backoff with jitter.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each delay uniformly over delay*(1±Jitter).
	Jitter float64
}

// DefaultRetryPolicy returns the policy used by NewRetryingExporter when
// none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Validate rejects policies that cannot produce a sensible schedule.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidConfig, p.MaxAttempts)
	case p.InitialBackoff <= 0:
		return fmt.Errorf("%w: initial backoff must be > 0, got %v", ErrInvalidConfig, p.InitialBackoff)
	case p.MaxBackoff < p.InitialBackoff:
		return fmt.Errorf("%w: max backoff %v is below initial backoff %v", ErrInvalidConfig, p.MaxBackoff, p.InitialBackoff)
	case p.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be >= 1, got %v", ErrInvalidConfig, p.Multiplier)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: jitter must be within [0, 1], got %v", ErrInvalidConfig, p.Jitter)
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based), before
// jitter: min(MaxBackoff, InitialBackoff * Multiplier^attempt).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxBackoff) || math.IsInf(d, 1) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// jittered applies Jitter to d using r, a uniform sample from [0, 1).
func (p RetryPolicy) jittered(d time.Duration, r float64) time.Duration {
	if p.Jitter == 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + p.Jitter*(2*r-1)))
}

// RetryOption configures a RetryingExporter.
type RetryOption func(*RetryingExporter)

// WithRetryClock sets the clock used to wait between attempts.
func WithRetryClock(c clockz.Clock) RetryOption {
	return func(e *RetryingExporter) { e.clock = c }
}

// WithRetryLogger sets the logger that records retries.
func WithRetryLogger(l *zap.Logger) RetryOption {
	return func(e *RetryingExporter) { e.logger = l }
}

// WithJitterSource replaces the random source for jitter. fn must return
// values in [0, 1).
func WithJitterSource(fn func() float64) RetryOption {
	return func(e *RetryingExporter) { e.rand = fn }
}

// RetryingExporter retries failed exports that are marked Retryable.
// Other errors and context cancellation end the export immediately.
type RetryingExporter struct {
	next   SpanExporter
	clock  clockz.Clock
	logger *zap.Logger
	rand   func() float64
	policy RetryPolicy
}

// NewRetryingExporter decorates next with policy.
func NewRetryingExporter(next SpanExporter, policy RetryPolicy, opts ...RetryOption) (*RetryingExporter, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: retrying exporter requires an exporter", ErrInvalidConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &RetryingExporter{
		next:   next,
		policy: policy,
		clock:  clockz.RealClock,
		logger: zap.NewNop(),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

var _ SpanExporter = (*RetryingExporter)(nil)

// ExportSpans exports spans, waiting between attempts per the policy.
func (e *RetryingExporter) ExportSpans(ctx context.Context, spans []SpanRecord) error {
	var err error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.policy.jittered(e.policy.Delay(attempt-1), e.rand())
			e.logger.Debug("retrying span export",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return multierr.Append(ctx.Err(), err)
			case <-e.clock.After(delay):
			}
		}

		err = e.next.ExportSpans(ctx, spans)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}
	}
	e.logger.Warn("span export failed after retries",
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Int("batch_size", len(spans)),
		zap.Error(err),
	)
	return fmt.Errorf("export failed after %d attempts: %w", e.policy.MaxAttempts, err)
}

// ForceFlush flushes the wrapped exporter.
func (e *RetryingExporter) ForceFlush(ctx context.Context) error { return e.next.ForceFlush(ctx) }

// Shutdown shuts the wrapped exporter down.
func (e *RetryingExporter) Shutdown(ctx context.Context) error { return e.next.Shutdown(ctx) }
