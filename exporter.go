package otelz

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InMemoryExporter buffers exported span records for inspection.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type InMemoryExporter struct {
	spans   []SpanRecord
	batches atomic.Int64
	mu      sync.Mutex
	closed  atomic.Bool
}

// NewInMemoryExporter creates an empty exporter.
func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{
		spans: make([]SpanRecord, 0, 8), // Start with small capacity.
	}
}

var _ SpanExporter = (*InMemoryExporter)(nil)

// ExportSpans appends spans to the buffer.
func (e *InMemoryExporter) ExportSpans(ctx context.Context, spans []SpanRecord) error {
	if e.closed.Load() {
		return ErrExporterShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Check if buffer needs to grow - optimized growth strategy.
	if need := len(e.spans) + len(spans); need > cap(e.spans) {
		newCap := cap(e.spans) * 2
		if cap(e.spans) >= 1024 {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = cap(e.spans) + cap(e.spans)/2
		}
		if newCap < need {
			newCap = need
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]SpanRecord, len(e.spans), newCap)
		copy(grown, e.spans)
		e.spans = grown
	}
	e.spans = append(e.spans, spans...)
	e.batches.Add(1)
	return nil
}

// ForceFlush does nothing.
func (*InMemoryExporter) ForceFlush(context.Context) error { return nil }

// Shutdown rejects later exports. Buffered spans stay readable.
func (e *InMemoryExporter) Shutdown(context.Context) error {
	e.closed.Store(true)
	return nil
}

// Spans returns a copy of the buffered records.
// The returned slice is safe to modify without affecting the exporter.
func (e *InMemoryExporter) Spans() []SpanRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.spans) == 0 {
		return nil
	}
	result := make([]SpanRecord, len(e.spans))
	copy(result, e.spans)
	return result
}

// Drain returns the buffered records and clears the buffer.
func (e *InMemoryExporter) Drain() []SpanRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.spans) == 0 {
		return nil
	}
	result := e.spans
	e.spans = make([]SpanRecord, 0, 8)
	return result
}

// Count returns the number of buffered records.
func (e *InMemoryExporter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spans)
}

// Batches returns the number of ExportSpans calls that were accepted.
func (e *InMemoryExporter) Batches() int64 {
	return e.batches.Load()
}

// Reset clears the buffer and the batch counter.
func (e *InMemoryExporter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.spans = e.spans[:0]
	e.batches.Store(0)
}

// LoggerExporter writes each span as a structured log entry.
type LoggerExporter struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	closed atomic.Bool
}

// NewLoggerExporter creates an exporter writing to logger at info level.
func NewLoggerExporter(logger *zap.Logger) *LoggerExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerExporter{logger: logger, level: zap.NewAtomicLevelAt(zap.InfoLevel)}
}

var _ SpanExporter = (*LoggerExporter)(nil)

// SetLevel changes the level spans are logged at.
func (e *LoggerExporter) SetLevel(l zapcore.Level) { e.level.SetLevel(l) }

// ExportSpans logs every record.
func (e *LoggerExporter) ExportSpans(ctx context.Context, spans []SpanRecord) error {
	if e.closed.Load() {
		return ErrExporterShutdown
	}
	for _, r := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := []zap.Field{
			zap.Stringer("trace_id", r.SpanContext.TraceID()),
			zap.Stringer("span_id", r.SpanContext.SpanID()),
			zap.Stringer("kind", r.Kind),
			zap.Time("start", r.StartTime),
			zap.Duration("duration", r.Duration()),
			zap.Stringer("status", r.Status.Code),
		}
		if r.Parent.IsValid() {
			fields = append(fields, zap.Stringer("parent_span_id", r.Parent.SpanID()))
		}
		if r.Status.Description != "" {
			fields = append(fields, zap.String("status_description", r.Status.Description))
		}
		if r.InstrumentationScope.Name != "" {
			fields = append(fields, zap.String("scope", r.InstrumentationScope.Name))
		}
		for _, a := range r.Attributes {
			fields = append(fields, zap.Any("attr."+a.Key, a.Value.Interface()))
		}
		if len(r.Events) > 0 {
			fields = append(fields, zap.Int("events", len(r.Events)))
		}
		if ce := e.logger.Check(e.level.Level(), r.Name); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// ForceFlush syncs the logger.
func (e *LoggerExporter) ForceFlush(context.Context) error {
	_ = e.logger.Sync() //nolint:errcheck // Sync fails on stdout/stderr on some platforms
	return nil
}

// Shutdown syncs the logger and rejects later exports.
func (e *LoggerExporter) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	return e.ForceFlush(ctx)
}
