package otelz

import "time"

type spanStartConfig struct {
	startTime  time.Time
	attributes []Attribute
	links      []Link
	kind       SpanKind
	newRoot    bool
}

// SpanStartOption configures a span at start.
type SpanStartOption func(*spanStartConfig)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanStartOption {
	return func(c *spanStartConfig) { c.kind = kind }
}

// WithSpanAttributes adds attributes at start, visible to the sampler.
func WithSpanAttributes(attrs ...Attribute) SpanStartOption {
	return func(c *spanStartConfig) { c.attributes = append(c.attributes, attrs...) }
}

// WithLinks adds links at start, visible to the sampler.
func WithLinks(links ...Link) SpanStartOption {
	return func(c *spanStartConfig) { c.links = append(c.links, links...) }
}

// WithStartTime overrides the start timestamp.
func WithStartTime(t time.Time) SpanStartOption {
	return func(c *spanStartConfig) { c.startTime = t }
}

// WithNewRoot ignores any parent and starts a new trace.
func WithNewRoot() SpanStartOption {
	return func(c *spanStartConfig) { c.newRoot = true }
}

type eventConfig struct {
	time       time.Time
	attributes []Attribute
	stackTrace bool
}

// EventOption configures an event or recorded error.
type EventOption func(*eventConfig)

// WithEventAttributes adds attributes to the event.
func WithEventAttributes(attrs ...Attribute) EventOption {
	return func(c *eventConfig) { c.attributes = append(c.attributes, attrs...) }
}

// WithEventTime overrides the event timestamp.
func WithEventTime(t time.Time) EventOption {
	return func(c *eventConfig) { c.time = t }
}

// WithStackTrace records the calling goroutine's stack with an error.
func WithStackTrace(enabled bool) EventOption {
	return func(c *eventConfig) { c.stackTrace = enabled }
}

type spanEndConfig struct {
	endTime time.Time
}

// SpanEndOption configures the end of a span.
type SpanEndOption func(*spanEndConfig)

// WithEndTime overrides the end timestamp.
func WithEndTime(t time.Time) SpanEndOption {
	return func(c *spanEndConfig) { c.endTime = t }
}
