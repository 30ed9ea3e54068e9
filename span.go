package otelz

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Span is a single traced operation.
//
// Spans returned by a Tracer are always usable: when the sampler drops a
// span the returned value is non-recording and every mutator is a no-op,
// so instrumented code never branches on the sampling decision.
type Span interface {
	// SpanContext returns the identity of the span.
	SpanContext() SpanContext
	// IsRecording reports whether mutations are kept.
	IsRecording() bool
	// SetName replaces the span name.
	SetName(name string)
	// SetAttributes adds or replaces attributes.
	SetAttributes(attrs ...Attribute)
	// AddEvent records a timestamped event.
	AddEvent(name string, opts ...EventOption)
	// AddLink links another span context.
	AddLink(link Link)
	// RecordError records err as an exception event.
	RecordError(err error, opts ...EventOption)
	// SetStatus sets the span status. Unset is ignored and Ok is final.
	SetStatus(code StatusCode, description string)
	// End completes the span. Only the first call has an effect.
	End(opts ...SpanEndOption)
	// Activate attaches a context carrying this span to the tracer's
	// storage, so later spans pick it up as their parent.
	Activate() *Scope
}

var spanKey = NewContextKey("otelz.span")

// ContextWithSpan returns a Context carrying s as the current span.
func ContextWithSpan(c Context, s Span) Context {
	return c.With(spanKey, s)
}

// ContextWithRemoteSpanContext returns a Context carrying a non-recording
// span for a span context received from another process.
func ContextWithRemoteSpanContext(c Context, sc SpanContext) Context {
	return ContextWithSpan(c, &nonRecordingSpan{sc: sc.WithRemote(true)})
}

// SpanFromContext returns the current span in c, or a non-recording span
// with an invalid span context.
func SpanFromContext(c Context) Span {
	if v, ok := c.Value(spanKey); ok {
		if s, ok := v.(Span); ok {
			return s
		}
	}
	return &nonRecordingSpan{sc: InvalidSpanContext}
}

// SpanContextFromContext returns the span context of the current span in c.
func SpanContextFromContext(c Context) SpanContext {
	return SpanFromContext(c).SpanContext()
}

// recordingSpan is the live span handed out while sampled or recorded.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability over memory
type recordingSpan struct {
	mu            sync.Mutex
	tracer        *Tracer
	name          string
	sc            SpanContext
	parent        SpanContext
	kind          SpanKind
	startTime     time.Time
	endTime       time.Time
	attrs         *attributeSet
	events        []Event
	droppedEvents int
	links         []Link
	droppedLinks  int
	status        Status
	childCount    int
	ended         bool
}

var _ Span = (*recordingSpan)(nil)

func (s *recordingSpan) SpanContext() SpanContext { return s.sc }

func (s *recordingSpan) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

func (s *recordingSpan) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.name = name
}

func (s *recordingSpan) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	for _, a := range attrs {
		s.attrs.set(a)
	}
}

func (s *recordingSpan) AddEvent(name string, opts ...EventOption) {
	cfg := eventConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	s.addEvent(name, cfg)
}

func (s *recordingSpan) addEvent(name string, cfg eventConfig) {
	limits := s.tracer.provider.limits

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if len(s.events) >= limits.EventCountLimit {
		s.droppedEvents++
		return
	}
	if cfg.time.IsZero() {
		cfg.time = s.tracer.provider.clock.Now()
	}
	set := newAttributeSet(limits.AttributePerEventCountLimit, limits.AttributeValueLengthLimit)
	for _, a := range cfg.attributes {
		set.set(a)
	}
	s.events = append(s.events, Event{
		Name:              name,
		Time:              cfg.time,
		Attributes:        set.snapshot(),
		DroppedAttributes: set.dropped,
	})
}

func (s *recordingSpan) AddLink(link Link) {
	if !link.SpanContext.IsValid() {
		return
	}
	limits := s.tracer.provider.limits

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.addLinkLocked(link, limits)
}

func (s *recordingSpan) addLinkLocked(link Link, limits SpanLimits) {
	if len(s.links) >= limits.LinkCountLimit {
		s.droppedLinks++
		return
	}
	set := newAttributeSet(limits.AttributePerLinkCountLimit, limits.AttributeValueLengthLimit)
	for _, a := range link.Attributes {
		set.set(a)
	}
	s.links = append(s.links, Link{
		SpanContext:       link.SpanContext,
		Attributes:        set.snapshot(),
		DroppedAttributes: set.dropped + link.DroppedAttributes,
	})
}

func (s *recordingSpan) RecordError(err error, opts ...EventOption) {
	if err == nil {
		return
	}
	cfg := eventConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	attrs := []Attribute{
		String("exception.type", fmt.Sprintf("%T", err)),
		String("exception.message", err.Error()),
	}
	if cfg.stackTrace {
		attrs = append(attrs, String("exception.stacktrace", string(debug.Stack())))
	}
	cfg.attributes = append(attrs, cfg.attributes...)
	s.addEvent("exception", cfg)
}

func (s *recordingSpan) SetStatus(code StatusCode, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || code == StatusUnset || s.status.Code == StatusOK {
		return
	}
	if code != StatusError {
		description = ""
	}
	s.status = Status{Code: code, Description: description}
}

func (s *recordingSpan) End(opts ...SpanEndOption) {
	cfg := spanEndConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	// Prevent double-ending.
	if s.ended {
		s.mu.Unlock()
		s.tracer.provider.logger.Warn("span ended more than once",
			zap.String("span", s.name),
			zap.Stringer("trace_id", s.sc.TraceID()),
			zap.Stringer("span_id", s.sc.SpanID()),
		)
		return
	}
	if cfg.endTime.IsZero() {
		cfg.endTime = s.tracer.provider.clock.Now()
	}
	s.endTime = cfg.endTime
	s.ended = true
	record := s.snapshotLocked()
	s.mu.Unlock()

	s.tracer.provider.spanEnded(record)
}

func (s *recordingSpan) Activate() *Scope {
	storage := s.tracer.provider.storage
	return storage.Attach(ContextWithSpan(storage.Current(), s))
}

// addChild counts spans started with this span as their parent.
func (s *recordingSpan) addChild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.childCount++
	}
}

func (s *recordingSpan) snapshotLocked() SpanRecord {
	record := SpanRecord{
		Name:                 s.name,
		SpanContext:          s.sc,
		Parent:               s.parent,
		Kind:                 s.kind,
		StartTime:            s.startTime,
		EndTime:              s.endTime,
		Attributes:           s.attrs.snapshot(),
		Status:               s.status,
		DroppedAttributes:    s.attrs.dropped,
		DroppedEvents:        s.droppedEvents,
		DroppedLinks:         s.droppedLinks,
		ChildSpanCount:       s.childCount,
		InstrumentationScope: s.tracer.scope,
		Resource:             s.tracer.provider.resource,
	}
	if len(s.events) > 0 {
		record.Events = make([]Event, len(s.events))
		copy(record.Events, s.events)
	}
	if len(s.links) > 0 {
		record.Links = make([]Link, len(s.links))
		copy(record.Links, s.links)
	}
	return record
}

// nonRecordingSpan carries a span context without recording anything.
// It is returned for dropped spans and wraps remote parents.
type nonRecordingSpan struct {
	storage *Storage
	sc      SpanContext
}

var _ Span = (*nonRecordingSpan)(nil)

func (s *nonRecordingSpan) SpanContext() SpanContext          { return s.sc }
func (s *nonRecordingSpan) IsRecording() bool                 { return false }
func (s *nonRecordingSpan) SetName(string)                    {}
func (s *nonRecordingSpan) SetAttributes(...Attribute)        {}
func (s *nonRecordingSpan) AddEvent(string, ...EventOption)   {}
func (s *nonRecordingSpan) AddLink(Link)                      {}
func (s *nonRecordingSpan) RecordError(error, ...EventOption) {}
func (s *nonRecordingSpan) SetStatus(StatusCode, string)      {}
func (s *nonRecordingSpan) End(...SpanEndOption)              {}

func (s *nonRecordingSpan) Activate() *Scope {
	storage := s.storage
	if storage == nil {
		storage = DefaultStorage()
	}
	return storage.Attach(ContextWithSpan(storage.Current(), s))
}
