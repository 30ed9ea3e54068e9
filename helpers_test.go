package otelz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestProvider returns a provider that exports every sampled span
// synchronously into the returned exporter. Each provider has its own
// storage so tests do not share a current context.
func newTestProvider(t *testing.T, opts ...ProviderOption) (*TracerProvider, *InMemoryExporter) {
	t.Helper()
	exporter := NewInMemoryExporter()
	all := append([]ProviderOption{
		WithStorage(NewStorage()),
		WithSpanProcessor(NewSimpleProcessor(exporter)),
	}, opts...)
	provider, err := NewTracerProvider(all...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background()) //nolint:errcheck
	})
	return provider, exporter
}

// recordingProcessor remembers every callback it receives.
type recordingProcessor struct {
	mu        sync.Mutex
	name      string
	log       *[]string
	started   []Span
	ended     []SpanRecord
	flushes   int
	shutdowns int
}

func (p *recordingProcessor) OnStart(_ Context, s Span) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, s)
	if p.log != nil {
		*p.log = append(*p.log, p.name+".start")
	}
}

func (p *recordingProcessor) OnEnd(r SpanRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, r)
	if p.log != nil {
		*p.log = append(*p.log, p.name+".end")
	}
}

func (p *recordingProcessor) ForceFlush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *recordingProcessor) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

func (p *recordingProcessor) endedRecords() []SpanRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SpanRecord, len(p.ended))
	copy(out, p.ended)
	return out
}

// panickingProcessor panics in every callback.
type panickingProcessor struct{}

func (panickingProcessor) OnStart(Context, Span)            { panic("start boom") }
func (panickingProcessor) OnEnd(SpanRecord)                 { panic("end boom") }
func (panickingProcessor) ForceFlush(context.Context) error { return nil }
func (panickingProcessor) Shutdown(context.Context) error   { return nil }

var errExportFailed = errors.New("export failed")

// scriptedExporter fails the first failures calls and records the rest.
type scriptedExporter struct {
	mu        sync.Mutex
	failures  int
	failWith  error
	calls     int
	batches   [][]SpanRecord
	flushes   int
	shutdowns int
	block     chan struct{}
}

func (e *scriptedExporter) ExportSpans(ctx context.Context, spans []SpanRecord) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		if e.failWith != nil {
			return e.failWith
		}
		return errExportFailed
	}
	batch := make([]SpanRecord, len(spans))
	copy(batch, spans)
	e.batches = append(e.batches, batch)
	return nil
}

func (e *scriptedExporter) ForceFlush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	return nil
}

func (e *scriptedExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return nil
}

func (e *scriptedExporter) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedExporter) exported() []SpanRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []SpanRecord
	for _, b := range e.batches {
		out = append(out, b...)
	}
	return out
}

func (e *scriptedExporter) batchSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	sizes := make([]int, len(e.batches))
	for i, b := range e.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (e *scriptedExporter) shutdownCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdowns
}

// sampledRecord builds a minimal sampled record for processor tests.
func sampledRecord(name string) SpanRecord {
	return SpanRecord{
		Name:        name,
		SpanContext: NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, false),
	}
}
