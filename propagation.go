package otelz

import (
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// TextMapCarrier is the string key/value storage a propagator reads and
// writes, typically request headers.
type TextMapCarrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// MapCarrier adapts a map to TextMapCarrier.
type MapCarrier map[string]string

var _ TextMapCarrier = MapCarrier{}

// Get returns the value for key.
func (c MapCarrier) Get(key string) string { return c[key] }

// Set stores value under key.
func (c MapCarrier) Set(key, value string) { c[key] = value }

// Keys returns the keys in sorted order.
func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HeaderCarrier adapts http.Header to TextMapCarrier.
type HeaderCarrier http.Header

var _ TextMapCarrier = HeaderCarrier{}

// Get returns the first value for key.
func (c HeaderCarrier) Get(key string) string { return http.Header(c).Get(key) }

// Set replaces the values for key.
func (c HeaderCarrier) Set(key, value string) { http.Header(c).Set(key, value) }

// Keys returns the canonical header names.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TextMapPropagator moves Context values across process boundaries.
type TextMapPropagator interface {
	// Inject writes the relevant values of c into carrier.
	Inject(c Context, carrier TextMapCarrier)
	// Extract returns c extended with the values read from carrier.
	// Malformed input leaves c unchanged.
	Extract(c Context, carrier TextMapCarrier) Context
	// Fields returns the carrier keys the propagator uses.
	Fields() []string
}

const (
	traceparentHeader    = "traceparent"
	tracestateHeader     = "tracestate"
	baggageHeader        = "baggage"
	traceContextVersion  = 0
	maxBaggageMembers    = 180
	maxBaggageLength     = 8192
	maxBaggageMemberSize = 4096
)

// TraceContext propagates span contexts in the W3C traceparent and
// tracestate headers.
type TraceContext struct {
	// Logger receives malformed header diagnostics. Nil discards them.
	Logger *zap.Logger
}

var _ TextMapPropagator = TraceContext{}

// Inject writes the span context of the current span in c.
func (tc TraceContext) Inject(c Context, carrier TextMapCarrier) {
	sc := SpanContextFromContext(c)
	if !sc.IsValid() {
		return
	}
	flags := sc.TraceFlags() & FlagsSampled
	carrier.Set(traceparentHeader, hex.EncodeToString([]byte{traceContextVersion})+"-"+
		sc.TraceID().String()+"-"+
		sc.SpanID().String()+"-"+
		flags.String())
	if ts := sc.TraceState().String(); ts != "" {
		carrier.Set(tracestateHeader, ts)
	}
}

// Extract reads traceparent and tracestate and returns c carrying a
// remote span context.
func (tc TraceContext) Extract(c Context, carrier TextMapCarrier) Context {
	header := carrier.Get(traceparentHeader)
	if header == "" {
		return c
	}
	sc, ok := parseTraceParent(header)
	if !ok {
		tc.logger().Debug("ignoring malformed traceparent", zap.String("traceparent", header))
		return c
	}
	if raw := carrier.Get(tracestateHeader); raw != "" {
		ts, err := ParseTraceState(raw)
		if err != nil {
			tc.logger().Debug("ignoring malformed tracestate", zap.Error(err))
		}
		sc = sc.WithTraceState(ts)
	}
	return ContextWithRemoteSpanContext(c, sc)
}

// Fields returns traceparent and tracestate.
func (TraceContext) Fields() []string {
	return []string{traceparentHeader, tracestateHeader}
}

func (tc TraceContext) logger() *zap.Logger {
	if tc.Logger == nil {
		return zap.NewNop()
	}
	return tc.Logger
}

// parseTraceParent parses version-traceid-spanid-flags. Versions above 00
// may append further fields; version ff is invalid.
func parseTraceParent(header string) (SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) < 4 {
		return InvalidSpanContext, false
	}
	if len(parts[0]) != 2 || !isLowerHex(parts[0]) {
		return InvalidSpanContext, false
	}
	ver, err := hex.DecodeString(parts[0])
	if err != nil || ver[0] == 0xff {
		return InvalidSpanContext, false
	}
	if ver[0] == traceContextVersion && len(parts) != 4 {
		return InvalidSpanContext, false
	}
	if len(parts[3]) != 2 || !isLowerHex(parts[3]) {
		return InvalidSpanContext, false
	}
	opts, err := hex.DecodeString(parts[3])
	if err != nil {
		return InvalidSpanContext, false
	}
	sc := NewSpanContextFromHex(parts[1], parts[2], TraceFlags(opts[0])&FlagsSampled, TraceState{}, true)
	return sc, sc.IsValid()
}

// BaggagePropagator propagates baggage in the W3C baggage header.
type BaggagePropagator struct{}

var _ TextMapPropagator = BaggagePropagator{}

// Inject writes the baggage of c. Members that would exceed the header
// limits are left out.
func (BaggagePropagator) Inject(c Context, carrier TextMapCarrier) {
	b := BaggageFromContext(c)
	if b.Len() == 0 {
		return
	}
	var sb strings.Builder
	members := 0
	for _, k := range b.Keys() {
		e, _ := b.Entry(k)
		member := url.QueryEscape(k) + "=" + url.PathEscape(e.Value)
		if e.Metadata != "" {
			member += ";" + e.Metadata
		}
		if len(member) > maxBaggageMemberSize || members == maxBaggageMembers {
			continue
		}
		extra := len(member)
		if sb.Len() > 0 {
			extra++
		}
		if sb.Len()+extra > maxBaggageLength {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(member)
		members++
	}
	if sb.Len() > 0 {
		carrier.Set(baggageHeader, sb.String())
	}
}

// Extract parses the baggage header and merges it over the baggage of c.
// An invalid header is ignored as a whole.
func (BaggagePropagator) Extract(c Context, carrier TextMapCarrier) Context {
	header := carrier.Get(baggageHeader)
	if header == "" || len(header) > maxBaggageLength {
		return c
	}
	b := BaggageFromContext(c)
	members := strings.Split(header, ",")
	if len(members) > maxBaggageMembers {
		return c
	}
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		kv, meta, _ := strings.Cut(m, ";")
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return c
		}
		key, err := url.QueryUnescape(strings.TrimSpace(k))
		if err != nil || key == "" {
			return c
		}
		value, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return c
		}
		b = b.SetEntry(key, BaggageEntry{Value: value, Metadata: strings.TrimSpace(meta)})
	}
	return ContextWithBaggage(c, b)
}

// Fields returns baggage.
func (BaggagePropagator) Fields() []string { return []string{baggageHeader} }

type compositePropagator []TextMapPropagator

// NewCompositePropagator runs propagators in order. Extract feeds each
// result into the next.
func NewCompositePropagator(propagators ...TextMapPropagator) TextMapPropagator {
	return compositePropagator(propagators)
}

func (p compositePropagator) Inject(c Context, carrier TextMapCarrier) {
	for _, prop := range p {
		prop.Inject(c, carrier)
	}
}

func (p compositePropagator) Extract(c Context, carrier TextMapCarrier) Context {
	for _, prop := range p {
		c = prop.Extract(c, carrier)
	}
	return c
}

func (p compositePropagator) Fields() []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, prop := range p {
		for _, f := range prop.Fields() {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				fields = append(fields, f)
			}
		}
	}
	return fields
}
