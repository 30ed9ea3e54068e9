package otelz

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SpanProcessor is notified of span start and end. Processors are invoked
// synchronously on the goroutine that starts or ends the span, in the order
// they were registered, so OnStart and OnEnd must not block.
type SpanProcessor interface {
	// OnStart is called when a recording span starts. parent is the
	// context the span was started in.
	OnStart(parent Context, s Span)
	// OnEnd is called once with the final snapshot of a recording span.
	OnEnd(r SpanRecord)
	// ForceFlush exports everything pending and waits for completion or ctx.
	ForceFlush(ctx context.Context) error
	// Shutdown flushes and releases resources. Only the first call has an
	// effect.
	Shutdown(ctx context.Context) error
}

// SpanExporter sends span records to a backend.
type SpanExporter interface {
	// ExportSpans exports one batch. It is never called concurrently by the
	// processors in this package.
	ExportSpans(ctx context.Context, spans []SpanRecord) error
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// SimpleProcessor exports every sampled span synchronously as it ends.
// Intended for tests and debugging; use BatchProcessor in production.
type SimpleProcessor struct {
	exporter SpanExporter
	logger   *zap.Logger
	mu       sync.Mutex
	stopOnce sync.Once
	stopped  bool
}

// SimpleProcessorOption configures a SimpleProcessor.
type SimpleProcessorOption func(*SimpleProcessor)

// WithSimpleLogger sets the logger that receives export failures.
func WithSimpleLogger(logger *zap.Logger) SimpleProcessorOption {
	return func(p *SimpleProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewSimpleProcessor creates a processor that exports through exporter.
func NewSimpleProcessor(exporter SpanExporter, opts ...SimpleProcessorOption) *SimpleProcessor {
	p := &SimpleProcessor{exporter: exporter, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ SpanProcessor = (*SimpleProcessor)(nil)

// OnStart does nothing.
func (*SimpleProcessor) OnStart(Context, Span) {}

// OnEnd exports r if it is sampled.
func (p *SimpleProcessor) OnEnd(r SpanRecord) {
	if !r.SpanContext.IsSampled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if err := p.exporter.ExportSpans(context.Background(), []SpanRecord{r}); err != nil {
		p.logger.Warn("span export failed",
			zap.String("span", r.Name),
			zap.Error(err),
		)
	}
}

// ForceFlush flushes the exporter.
func (p *SimpleProcessor) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	return p.exporter.ForceFlush(ctx)
}

// Shutdown shuts the exporter down once.
func (p *SimpleProcessor) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		err = p.exporter.Shutdown(ctx)
	})
	return err
}
