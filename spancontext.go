package otelz

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// TraceID is a 16 byte trace identifier. All zero is invalid.
type TraceID [16]byte

// SpanID is an 8 byte span identifier. All zero is invalid.
type SpanID [8]byte

var (
	nilTraceID TraceID
	nilSpanID  SpanID
)

// IsValid reports whether the ID is not all zero.
func (t TraceID) IsValid() bool { return !bytes.Equal(t[:], nilTraceID[:]) }

// String returns the 32 character lowercase hex encoding.
func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

// MarshalJSON encodes the ID as hex.
func (t TraceID) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// IsValid reports whether the ID is not all zero.
func (s SpanID) IsValid() bool { return !bytes.Equal(s[:], nilSpanID[:]) }

// String returns the 16 character lowercase hex encoding.
func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

// MarshalJSON encodes the ID as hex.
func (s SpanID) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// TraceIDFromHex parses a 32 character lowercase hex trace ID.
func TraceIDFromHex(h string) (TraceID, bool) {
	var t TraceID
	if len(h) != 32 || !isLowerHex(h) {
		return t, false
	}
	if _, err := hex.Decode(t[:], []byte(h)); err != nil {
		return t, false
	}
	return t, t.IsValid()
}

// SpanIDFromHex parses a 16 character lowercase hex span ID.
func SpanIDFromHex(h string) (SpanID, bool) {
	var s SpanID
	if len(h) != 16 || !isLowerHex(h) {
		return s, false
	}
	if _, err := hex.Decode(s[:], []byte(h)); err != nil {
		return s, false
	}
	return s, s.IsValid()
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// TraceFlags carries the W3C trace-flags byte.
type TraceFlags byte

// FlagsSampled is the sampled bit.
const FlagsSampled TraceFlags = 0x01

// IsSampled reports whether the sampled bit is set.
func (f TraceFlags) IsSampled() bool { return f&FlagsSampled == FlagsSampled }

// WithSampled returns f with the sampled bit set or cleared.
func (f TraceFlags) WithSampled(sampled bool) TraceFlags {
	if sampled {
		return f | FlagsSampled
	}
	return f &^ FlagsSampled
}

// String returns the two character hex encoding.
func (f TraceFlags) String() string { return hex.EncodeToString([]byte{byte(f)}) }

// SpanContext identifies a span. It is an immutable value and safe to share.
//
//nolint:govet // Field order follows the W3C traceparent layout
type SpanContext struct {
	traceID    TraceID
	spanID     SpanID
	traceFlags TraceFlags
	traceState TraceState
	remote     bool
}

// InvalidSpanContext is returned wherever a span context cannot be built.
var InvalidSpanContext = SpanContext{}

// SpanContextConfig holds the fields of a new SpanContext.
type SpanContextConfig struct {
	TraceState TraceState
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags TraceFlags
	Remote     bool
}

// NewSpanContext builds a SpanContext. Invalid IDs yield InvalidSpanContext.
func NewSpanContext(cfg SpanContextConfig) SpanContext {
	if !cfg.TraceID.IsValid() || !cfg.SpanID.IsValid() {
		return InvalidSpanContext
	}
	return SpanContext{
		traceID:    cfg.TraceID,
		spanID:     cfg.SpanID,
		traceFlags: cfg.TraceFlags,
		traceState: cfg.TraceState,
		remote:     cfg.Remote,
	}
}

// NewSpanContextFromHex builds a SpanContext from hex encoded IDs, as read
// from a propagation carrier. Malformed input yields InvalidSpanContext.
func NewSpanContextFromHex(traceID, spanID string, flags TraceFlags, state TraceState, remote bool) SpanContext {
	tid, ok := TraceIDFromHex(traceID)
	if !ok {
		return InvalidSpanContext
	}
	sid, ok := SpanIDFromHex(spanID)
	if !ok {
		return InvalidSpanContext
	}
	return NewSpanContext(SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		TraceState: state,
		Remote:     remote,
	})
}

// TraceID returns the trace ID.
func (sc SpanContext) TraceID() TraceID { return sc.traceID }

// SpanID returns the span ID.
func (sc SpanContext) SpanID() SpanID { return sc.spanID }

// TraceFlags returns the trace flags.
func (sc SpanContext) TraceFlags() TraceFlags { return sc.traceFlags }

// TraceState returns the vendor trace state.
func (sc SpanContext) TraceState() TraceState { return sc.traceState }

// IsValid reports whether both IDs are valid.
func (sc SpanContext) IsValid() bool { return sc.traceID.IsValid() && sc.spanID.IsValid() }

// IsSampled reports whether the sampled flag is set.
func (sc SpanContext) IsSampled() bool { return sc.traceFlags.IsSampled() }

// IsRemote reports whether the context was extracted from a carrier.
func (sc SpanContext) IsRemote() bool { return sc.remote }

// WithRemote returns a copy with the remote flag set.
func (sc SpanContext) WithRemote(remote bool) SpanContext {
	sc.remote = remote
	return sc
}

// WithTraceState returns a copy with the given trace state.
func (sc SpanContext) WithTraceState(state TraceState) SpanContext {
	sc.traceState = state
	return sc
}

// Equal compares all fields.
func (sc SpanContext) Equal(other SpanContext) bool {
	return sc.traceID == other.traceID &&
		sc.spanID == other.spanID &&
		sc.traceFlags == other.traceFlags &&
		sc.remote == other.remote &&
		sc.traceState.String() == other.traceState.String()
}

// MarshalJSON encodes the span context for exporters and logs.
func (sc SpanContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TraceID    string `json:"trace_id"`
		SpanID     string `json:"span_id"`
		TraceFlags string `json:"trace_flags"`
		TraceState string `json:"trace_state,omitempty"`
		Remote     bool   `json:"remote,omitempty"`
	}{
		TraceID:    sc.traceID.String(),
		SpanID:     sc.spanID.String(),
		TraceFlags: sc.traceFlags.String(),
		TraceState: sc.traceState.String(),
		Remote:     sc.remote,
	})
}
