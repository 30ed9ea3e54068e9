package otelz

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTracerProviderDefaults(t *testing.T) {
	provider, err := NewTracerProvider()
	require.NoError(t, err)
	defer provider.Shutdown(context.Background()) //nolint:errcheck

	assert.Same(t, DefaultStorage(), provider.Storage())
	assert.Contains(t, provider.Sampler().Description(), "ParentBased{root:AlwaysOnSampler")
}

func TestNewTracerProviderRejectsNegativeLimits(t *testing.T) {
	limits := DefaultSpanLimits()
	limits.EventCountLimit = -1
	_, err := NewTracerProvider(WithSpanLimits(limits))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTracerIsCachedPerScope(t *testing.T) {
	provider, _ := newTestProvider(t)
	a := provider.Tracer("lib", "1")
	assert.Same(t, a, provider.Tracer("lib", "1"))
	assert.NotSame(t, a, provider.Tracer("lib", "2"))
	assert.Equal(t, InstrumentationScope{Name: "lib", Version: "1"}, a.Scope())
}

func TestTracerStartRootSpan(t *testing.T) {
	provider, exporter := newTestProvider(t)

	ctx, span := provider.Tracer("test", "").Start(context.Background(), "root")
	sc := span.SpanContext()
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsSampled())
	assert.False(t, sc.IsRemote())
	assert.True(t, span.IsRecording())

	// The returned context carries the span.
	assert.Same(t, span, SpanFromContext(FromGoContext(ctx)))

	span.End()
	r := exporter.Spans()[0]
	assert.False(t, r.Parent.IsValid())
	assert.Equal(t, SpanKindInternal, r.Kind)
}

func TestTracerStartChildSpan(t *testing.T) {
	provider, exporter := newTestProvider(t)
	tracer := provider.Tracer("test", "")

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child", WithSpanKind(SpanKindClient))
	child.End()
	parent.End()

	records := exporter.Spans()
	require.Len(t, records, 2)
	childRec, parentRec := records[0], records[1]

	assert.Equal(t, parentRec.SpanContext.TraceID(), childRec.SpanContext.TraceID())
	assert.Equal(t, parentRec.SpanContext.SpanID(), childRec.Parent.SpanID())
	assert.NotEqual(t, parentRec.SpanContext.SpanID(), childRec.SpanContext.SpanID())
	assert.Equal(t, SpanKindClient, childRec.Kind)
	assert.Equal(t, 1, parentRec.ChildSpanCount)
}

func TestTracerStartWithNewRoot(t *testing.T) {
	provider, _ := newTestProvider(t)
	tracer := provider.Tracer("test", "")

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, detached := tracer.Start(ctx, "detached", WithNewRoot())

	assert.NotEqual(t, parent.SpanContext().TraceID(), detached.SpanContext().TraceID())
	detached.End()
	parent.End()
}

func TestTracerStartFallsBackToStorage(t *testing.T) {
	provider, _ := newTestProvider(t)
	tracer := provider.Tracer("test", "")

	parent := tracer.SpanBuilder("parent").StartSpan()
	scope := parent.Activate()
	defer scope.Detach() //nolint:errcheck

	// context.Background carries no Context, so the storage supplies it.
	_, child := tracer.Start(context.Background(), "child")
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())

	// An explicitly embedded root wins over the storage.
	_, root := tracer.Start(IntoGoContext(context.Background(), Root()), "root")
	assert.NotEqual(t, parent.SpanContext().TraceID(), root.SpanContext().TraceID())
}

func TestTracerDropCreatesNonRecordingSpan(t *testing.T) {
	proc := &recordingProcessor{}
	provider, exporter := newTestProvider(t, WithSampler(AlwaysOff()), WithSpanProcessor(proc))

	_, span := provider.Tracer("test", "").Start(context.Background(), "dropped")
	assert.False(t, span.IsRecording())
	assert.True(t, span.SpanContext().IsValid(), "dropped spans still carry IDs for propagation")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	assert.Empty(t, proc.endedRecords())
	assert.Equal(t, 0, exporter.Count())
}

func TestParentBasedAlwaysOffDropsRootSpans(t *testing.T) {
	provider, exporter := newTestProvider(t, WithSampler(ParentBased(AlwaysOff())))
	tracer := provider.Tracer("test", "")

	_, root := tracer.Start(context.Background(), "root")
	assert.False(t, root.IsRecording())
	assert.False(t, root.SpanContext().IsSampled())
	root.End()

	remote := NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, true)
	child := tracer.SpanBuilder("continued").SetParent(ContextWithRemoteSpanContext(Root(), remote)).StartSpan()
	assert.True(t, child.IsRecording(), "a sampled parent still wins")
	child.End()

	records := exporter.Spans()
	require.Len(t, records, 1)
	assert.Equal(t, "continued", records[0].Name)
}

// recordOnlySampler records spans without sampling them.
type recordOnlySampler struct{}

func (recordOnlySampler) ShouldSample(p SamplingParameters) SamplingResult {
	return SamplingResult{
		Decision:   RecordOnly,
		Attributes: []Attribute{String("sampler", "record-only")},
		TraceState: parentTraceState(p),
	}
}

func (recordOnlySampler) Description() string { return "RecordOnly" }

func TestTracerRecordOnlyReachesProcessorsButNotExport(t *testing.T) {
	proc := &recordingProcessor{}
	provider, exporter := newTestProvider(t, WithSampler(recordOnlySampler{}), WithSpanProcessor(proc))

	_, span := provider.Tracer("test", "").Start(context.Background(), "op")
	assert.True(t, span.IsRecording())
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	records := proc.endedRecords()
	require.Len(t, records, 1)
	v, ok := records[0].Attribute("sampler")
	require.True(t, ok)
	assert.Equal(t, "record-only", v.AsString())
	assert.Equal(t, 0, exporter.Count(), "unsampled spans are not exported")
}

func TestSpanBuilder(t *testing.T) {
	provider, exporter := newTestProvider(t)
	tracer := provider.Tracer("test", "")
	linked := NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, true)

	parent := tracer.SpanBuilder("parent").StartSpan()
	child := tracer.SpanBuilder("child").
		SetParent(ContextWithSpan(Root(), parent)).
		SetKind(SpanKindProducer).
		SetAttribute(String("a", "1")).
		SetAttributes(Int("b", 2)).
		AddLink(linked, String("link", "yes")).
		StartSpan()
	orphan := tracer.SpanBuilder("orphan").SetParent(ContextWithSpan(Root(), parent)).SetNoParent().StartSpan()

	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	assert.NotEqual(t, parent.SpanContext().TraceID(), orphan.SpanContext().TraceID())

	child.End()
	orphan.End()
	parent.End()

	r := exporter.Spans()[0]
	assert.Equal(t, "child", r.Name)
	assert.Equal(t, SpanKindProducer, r.Kind)
	assert.Len(t, r.Attributes, 2)
	require.Len(t, r.Links, 1)
	assert.True(t, r.Links[0].SpanContext.IsRemote())
}

func TestRemoteParentContinuesTrace(t *testing.T) {
	provider, exporter := newTestProvider(t)
	remote := NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, true)

	span := provider.Tracer("test", "").SpanBuilder("server").
		SetParent(ContextWithRemoteSpanContext(Root(), remote)).
		StartSpan()
	span.End()

	r := exporter.Spans()[0]
	assert.Equal(t, testTraceID, r.SpanContext.TraceID().String())
	assert.Equal(t, testSpanID, r.Parent.SpanID().String())
	assert.True(t, r.Parent.IsRemote())
	assert.False(t, r.SpanContext.IsRemote())
}

func TestProcessorsCalledInRegistrationOrder(t *testing.T) {
	var calls []string
	first := &recordingProcessor{name: "first", log: &calls}
	second := &recordingProcessor{name: "second", log: &calls}

	provider, _ := newTestProvider(t, WithSpanProcessor(first))
	provider.RegisterSpanProcessor(second)

	_, span := provider.Tracer("test", "").Start(context.Background(), "op")
	span.End()

	assert.Equal(t, []string{"first.start", "second.start", "first.end", "second.end"}, calls)
}

func TestUnregisterSpanProcessor(t *testing.T) {
	proc := &recordingProcessor{}
	provider, _ := newTestProvider(t)
	id := provider.RegisterSpanProcessor(proc)
	assert.NotZero(t, id)
	assert.Zero(t, provider.RegisterSpanProcessor(nil))

	provider.UnregisterSpanProcessor(id)
	_, span := provider.Tracer("test", "").Start(context.Background(), "op")
	span.End()
	assert.Empty(t, proc.endedRecords())
}

func TestProcessorPanicIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	provider, exporter := newTestProvider(t, WithLogger(zap.New(core)))
	provider.RegisterSpanProcessor(panickingProcessor{})

	var mu sync.Mutex
	var panics []any
	provider.SetPanicHook(func(_ uint64, r any) {
		mu.Lock()
		defer mu.Unlock()
		panics = append(panics, r)
	})

	_, span := provider.Tracer("test", "").Start(context.Background(), "op")
	span.End()

	assert.Equal(t, 1, exporter.Count(), "other processors still run")
	assert.Equal(t, []any{"start boom", "end boom"}, panics)
	assert.Equal(t, 2, logs.FilterMessage("span processor panicked").Len())
}

func TestProviderForceFlushAndShutdown(t *testing.T) {
	proc := &recordingProcessor{}
	provider, _ := newTestProvider(t, WithSpanProcessor(proc))
	tracer := provider.Tracer("test", "")

	require.NoError(t, provider.ForceFlush(context.Background()))
	assert.Equal(t, 1, proc.flushes)

	require.NoError(t, provider.Shutdown(context.Background()))
	require.NoError(t, provider.Shutdown(context.Background()))
	assert.Equal(t, 1, proc.shutdowns, "shutdown reaches processors once")

	_, span := tracer.Start(context.Background(), "late")
	assert.False(t, span.IsRecording())
}

func TestProviderForceFlushHonorsContext(t *testing.T) {
	provider, _ := newTestProvider(t, WithSpanProcessor(&recordingProcessor{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, provider.ForceFlush(ctx), context.Canceled)
}

func TestDefaultProvider(t *testing.T) {
	original := Default()
	require.NotNil(t, original)
	assert.Same(t, original, Default())

	replacement, err := NewTracerProvider(WithStorage(NewStorage()))
	require.NoError(t, err)
	SetDefault(replacement)
	defer SetDefault(original)

	assert.Same(t, replacement, Default())
	SetDefault(nil)
	assert.Same(t, replacement, Default())
}

// sequentialIDs hands out predictable IDs.
type sequentialIDs struct {
	mu   sync.Mutex
	next byte
}

func (g *sequentialIDs) NewTraceID() TraceID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return TraceID{15: g.next}
}

func (g *sequentialIDs) NewSpanID() SpanID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return SpanID{7: g.next}
}

func TestCustomIDGenerator(t *testing.T) {
	provider, _ := newTestProvider(t, WithIDGenerator(&sequentialIDs{}))
	_, span := provider.Tracer("test", "").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, "00000000000000000000000000000001", span.SpanContext().TraceID().String())
	assert.Equal(t, "0000000000000002", span.SpanContext().SpanID().String())
}
