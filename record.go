package otelz

import (
	"time"
)

// SpanKind describes the relationship of a span to its callers and callees.
type SpanKind int

// Span kinds.
const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// String returns the lowercase kind name.
func (k SpanKind) String() string {
	switch k {
	case SpanKindInternal:
		return "internal"
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	case SpanKindProducer:
		return "producer"
	case SpanKindConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind name.
func (k SpanKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// StatusCode is the outcome of a span.
type StatusCode int

// Status codes.
const (
	StatusUnset StatusCode = iota
	StatusError
	StatusOK
)

// String returns the status name.
func (c StatusCode) String() string {
	switch c {
	case StatusUnset:
		return "unset"
	case StatusError:
		return "error"
	case StatusOK:
		return "ok"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status name.
func (c StatusCode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Status is a status code plus an optional description for errors.
type Status struct {
	Description string     `json:"description,omitempty"`
	Code        StatusCode `json:"code"`
}

// Event is a timestamped annotation on a span.
type Event struct {
	Time              time.Time   `json:"time"`
	Name              string      `json:"name"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	DroppedAttributes int         `json:"dropped_attributes,omitempty"`
}

// Link associates a span with another span context.
type Link struct {
	Attributes        []Attribute `json:"attributes,omitempty"`
	SpanContext       SpanContext `json:"span_context"`
	DroppedAttributes int         `json:"dropped_attributes,omitempty"`
}

// InstrumentationScope names the library that produced a span.
type InstrumentationScope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// SpanRecord is the read-only snapshot of an ended span. Processors and
// exporters receive records; they never see the live span.
//
//nolint:govet // Field order optimized for JSON serialization order
type SpanRecord struct {
	Name                 string               `json:"name"`
	SpanContext          SpanContext          `json:"span_context"`
	Parent               SpanContext          `json:"parent"`
	Kind                 SpanKind             `json:"kind"`
	StartTime            time.Time            `json:"start_time"`
	EndTime              time.Time            `json:"end_time"`
	Attributes           []Attribute          `json:"attributes,omitempty"`
	Events               []Event              `json:"events,omitempty"`
	Links                []Link               `json:"links,omitempty"`
	Status               Status               `json:"status"`
	DroppedAttributes    int                  `json:"dropped_attributes,omitempty"`
	DroppedEvents        int                  `json:"dropped_events,omitempty"`
	DroppedLinks         int                  `json:"dropped_links,omitempty"`
	ChildSpanCount       int                  `json:"child_span_count,omitempty"`
	InstrumentationScope InstrumentationScope `json:"scope"`
	Resource             []Attribute          `json:"resource,omitempty"`
}

// Duration returns the time between start and end.
func (r SpanRecord) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Attribute returns the value of an attribute by key.
func (r SpanRecord) Attribute(key string) (Value, bool) {
	return findAttribute(r.Attributes, key)
}
