package otelz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type processorEntry struct {
	processor SpanProcessor
	id        uint64
}

// TracerProvider owns the configuration shared by its tracers: sampler,
// ID generation, limits, clock, storage and the processor chain.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type TracerProvider struct {
	processors     []processorEntry
	panicHook      func(processorID uint64, r any)
	sampler        Sampler
	ids            IDGenerator
	clock          clockz.Clock
	storage        *Storage
	logger         *zap.Logger
	resource       []Attribute
	limits         SpanLimits
	tracers        map[InstrumentationScope]*Tracer
	processorsLock sync.RWMutex
	tracersLock    sync.Mutex
	nextID         atomic.Uint64
	shutdown       atomic.Bool
}

// ProviderOption configures a TracerProvider.
type ProviderOption func(*TracerProvider)

// WithSampler sets the sampler. The default is ParentBased(AlwaysOn()).
func WithSampler(s Sampler) ProviderOption {
	return func(p *TracerProvider) { p.sampler = s }
}

// WithIDGenerator replaces the crypto/rand ID generator.
func WithIDGenerator(g IDGenerator) ProviderOption {
	return func(p *TracerProvider) { p.ids = g }
}

// WithSpanLimits sets the per-span limits.
func WithSpanLimits(l SpanLimits) ProviderOption {
	return func(p *TracerProvider) { p.limits = l }
}

// WithClock sets the clock used for span timestamps.
// Enables clock injection for deterministic testing.
func WithClock(c clockz.Clock) ProviderOption {
	return func(p *TracerProvider) { p.clock = c }
}

// WithStorage sets the storage consulted for the current context when a
// span is started without an explicit parent.
func WithStorage(s *Storage) ProviderOption {
	return func(p *TracerProvider) { p.storage = s }
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *TracerProvider) { p.logger = l }
}

// WithResource sets attributes describing the entity producing spans.
func WithResource(attrs ...Attribute) ProviderOption {
	return func(p *TracerProvider) { p.resource = append(p.resource, attrs...) }
}

// WithSpanProcessor registers a processor at construction.
func WithSpanProcessor(sp SpanProcessor) ProviderOption {
	return func(p *TracerProvider) {
		if sp != nil {
			p.processors = append(p.processors, processorEntry{processor: sp, id: p.nextID.Add(1)})
		}
	}
}

// NewTracerProvider creates a provider. Invalid limits are rejected.
func NewTracerProvider(opts ...ProviderOption) (*TracerProvider, error) {
	p := &TracerProvider{
		limits:  DefaultSpanLimits(),
		clock:   clockz.RealClock,
		tracers: make(map[InstrumentationScope]*Tracer),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.limits.Validate(); err != nil {
		return nil, err
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.sampler == nil {
		p.sampler = ParentBased(AlwaysOn())
	}
	if p.clock == nil {
		p.clock = clockz.RealClock
	}
	if p.ids == nil {
		p.ids = newRandomIDGenerator(p.clock)
	}
	if p.storage == nil {
		p.storage = DefaultStorage()
	}
	return p, nil
}

var (
	defaultProvider     atomic.Pointer[TracerProvider]
	defaultProviderOnce sync.Once
)

// Default returns the process-wide provider. Until SetDefault is called it
// is a provider with default settings and no processors.
func Default() *TracerProvider {
	defaultProviderOnce.Do(func() {
		if defaultProvider.Load() != nil {
			return
		}
		p, err := NewTracerProvider()
		if err != nil {
			panic(fmt.Sprintf("otelz: default provider: %v", err))
		}
		defaultProvider.CompareAndSwap(nil, p)
	})
	return defaultProvider.Load()
}

// SetDefault replaces the process-wide provider.
func SetDefault(p *TracerProvider) {
	if p == nil {
		return
	}
	defaultProvider.Store(p)
}

// Storage returns the storage the provider's tracers read the current
// context from.
func (p *TracerProvider) Storage() *Storage { return p.storage }

// Sampler returns the configured sampler.
func (p *TracerProvider) Sampler() Sampler { return p.sampler }

// Tracer returns the tracer for an instrumentation scope, creating it on
// first use.
func (p *TracerProvider) Tracer(name, version string) *Tracer {
	scope := InstrumentationScope{Name: name, Version: version}
	p.tracersLock.Lock()
	defer p.tracersLock.Unlock()
	if t, ok := p.tracers[scope]; ok {
		return t
	}
	t := &Tracer{provider: p, scope: scope}
	p.tracers[scope] = t
	return t
}

// RegisterSpanProcessor appends a processor to the chain and returns its ID.
func (p *TracerProvider) RegisterSpanProcessor(sp SpanProcessor) uint64 {
	if sp == nil {
		return 0
	}

	id := p.nextID.Add(1)

	p.processorsLock.Lock()
	defer p.processorsLock.Unlock()

	p.processors = append(p.processors, processorEntry{processor: sp, id: id})
	return id
}

// UnregisterSpanProcessor removes a processor by ID. The processor is not
// shut down.
func (p *TracerProvider) UnregisterSpanProcessor(id uint64) {
	p.processorsLock.Lock()
	defer p.processorsLock.Unlock()

	// Preserve order
	for i, e := range p.processors {
		if e.id == id {
			copy(p.processors[i:], p.processors[i+1:])
			p.processors = p.processors[:len(p.processors)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a processor panics.
func (p *TracerProvider) SetPanicHook(hook func(processorID uint64, r any)) {
	p.processorsLock.Lock()
	defer p.processorsLock.Unlock()
	p.panicHook = hook
}

func (p *TracerProvider) snapshotProcessors() ([]processorEntry, func(uint64, any)) {
	p.processorsLock.RLock()
	defer p.processorsLock.RUnlock()
	if len(p.processors) == 0 {
		return nil, p.panicHook
	}
	entries := make([]processorEntry, len(p.processors))
	copy(entries, p.processors)
	return entries, p.panicHook
}

func (p *TracerProvider) spanStarted(parent Context, s Span) {
	entries, hook := p.snapshotProcessors()
	for _, e := range entries {
		p.safeCall(e.id, hook, func() { e.processor.OnStart(parent, s) })
	}
}

func (p *TracerProvider) spanEnded(r SpanRecord) {
	entries, hook := p.snapshotProcessors()
	for _, e := range entries {
		p.safeCall(e.id, hook, func() { e.processor.OnEnd(r) })
	}
}

func (p *TracerProvider) safeCall(id uint64, hook func(uint64, any), fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("span processor panicked",
				zap.Uint64("processor_id", id),
				zap.Any("panic", r),
			)
			if hook != nil {
				hook(id, r)
			}
		}
	}()
	fn()
}

// ForceFlush flushes every processor in order and combines their errors.
func (p *TracerProvider) ForceFlush(ctx context.Context) error {
	entries, _ := p.snapshotProcessors()
	var err error
	for _, e := range entries {
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		err = multierr.Append(err, e.processor.ForceFlush(ctx))
	}
	return err
}

// Shutdown shuts every processor down in order. Spans started afterwards
// are non-recording. Only the first call has an effect.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	entries, _ := p.snapshotProcessors()
	var err error
	for _, e := range entries {
		err = multierr.Append(err, e.processor.Shutdown(ctx))
	}
	if g, ok := p.ids.(*randomIDGenerator); ok {
		g.close()
	}
	if err != nil {
		p.logger.Warn("tracer provider shutdown completed with errors", zap.Error(err))
	}
	return err
}

// Tracer creates spans for one instrumentation scope.
type Tracer struct {
	provider *TracerProvider
	scope    InstrumentationScope
}

// Scope returns the instrumentation scope of the tracer.
func (t *Tracer) Scope() InstrumentationScope { return t.scope }

// Start creates a span whose parent is the current span of ctx. When ctx
// carries no Context the provider's storage supplies it. The returned
// context carries the new span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanStartOption) (context.Context, Span) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}
	parent, ok := lookupGoContext(ctx)
	if !ok {
		parent = t.provider.storage.Current()
	}

	cfg := spanStartConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	span := t.start(parent, name, &cfg)
	return IntoGoContext(ctx, ContextWithSpan(parent, span)), span
}

// SpanBuilder returns a builder for a span named name.
func (t *Tracer) SpanBuilder(name string) *SpanBuilder {
	return &SpanBuilder{tracer: t, name: name}
}

// start runs sampling and builds the span. It never returns nil.
func (t *Tracer) start(parent Context, name string, cfg *spanStartConfig) Span {
	p := t.provider

	if cfg.newRoot {
		parent = ContextWithSpan(parent, &nonRecordingSpan{storage: p.storage, sc: InvalidSpanContext})
	}
	parentSpan := SpanFromContext(parent)
	psc := parentSpan.SpanContext()

	var traceID TraceID
	if psc.IsValid() {
		traceID = psc.TraceID()
	} else {
		traceID = p.ids.NewTraceID()
	}
	spanID := p.ids.NewSpanID()

	result := p.sampler.ShouldSample(SamplingParameters{
		ParentContext: parent,
		TraceID:       traceID,
		Name:          name,
		Kind:          cfg.kind,
		Attributes:    cfg.attributes,
		Links:         cfg.links,
	})

	sc := NewSpanContext(SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: psc.TraceFlags().WithSampled(result.Decision == RecordAndSample),
		TraceState: result.TraceState,
	})

	if result.Decision == Drop || p.shutdown.Load() {
		return &nonRecordingSpan{storage: p.storage, sc: sc}
	}

	startTime := cfg.startTime
	if startTime.IsZero() {
		startTime = p.clock.Now()
	}

	s := &recordingSpan{
		tracer:    t,
		name:      name,
		sc:        sc,
		parent:    psc,
		kind:      cfg.kind,
		startTime: startTime,
		attrs:     newAttributeSet(p.limits.AttributeCountLimit, p.limits.AttributeValueLengthLimit),
	}
	for _, a := range cfg.attributes {
		s.attrs.set(a)
	}
	for _, a := range result.Attributes {
		s.attrs.set(a)
	}
	for _, l := range cfg.links {
		if l.SpanContext.IsValid() {
			s.addLinkLocked(l, p.limits)
		}
	}

	if rs, ok := parentSpan.(*recordingSpan); ok {
		rs.addChild()
	}

	p.spanStarted(parent, s)
	return s
}

// SpanBuilder collects the parameters of a span before it starts.
// A builder is not safe for concurrent use.
type SpanBuilder struct {
	tracer    *Tracer
	name      string
	parent    Context
	cfg       spanStartConfig
	parentSet bool
}

// SetParent makes the current span of c the parent.
func (b *SpanBuilder) SetParent(c Context) *SpanBuilder {
	b.parent = c
	b.parentSet = true
	b.cfg.newRoot = false
	return b
}

// SetNoParent starts a new trace regardless of the current context.
func (b *SpanBuilder) SetNoParent() *SpanBuilder {
	b.cfg.newRoot = true
	return b
}

// SetKind sets the span kind.
func (b *SpanBuilder) SetKind(kind SpanKind) *SpanBuilder {
	b.cfg.kind = kind
	return b
}

// SetAttribute adds one attribute visible to the sampler.
func (b *SpanBuilder) SetAttribute(a Attribute) *SpanBuilder {
	b.cfg.attributes = append(b.cfg.attributes, a)
	return b
}

// SetAttributes adds attributes visible to the sampler.
func (b *SpanBuilder) SetAttributes(attrs ...Attribute) *SpanBuilder {
	b.cfg.attributes = append(b.cfg.attributes, attrs...)
	return b
}

// AddLink links sc to the new span.
func (b *SpanBuilder) AddLink(sc SpanContext, attrs ...Attribute) *SpanBuilder {
	b.cfg.links = append(b.cfg.links, Link{SpanContext: sc, Attributes: attrs})
	return b
}

// SetStartTime overrides the start timestamp.
func (b *SpanBuilder) SetStartTime(t time.Time) *SpanBuilder {
	b.cfg.startTime = t
	return b
}

// StartSpan starts the span. Without SetParent the parent comes from the
// provider's storage.
func (b *SpanBuilder) StartSpan() Span {
	parent := b.parent
	if !b.parentSet {
		parent = b.tracer.provider.storage.Current()
	}
	cfg := b.cfg
	return b.tracer.start(parent, b.name, &cfg)
}
