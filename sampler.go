package otelz

import (
	"encoding/binary"
	"fmt"
	"regexp"
)

// SamplingDecision is the outcome of a sampler.
type SamplingDecision int

// Sampling decisions.
const (
	// Drop creates a non-recording span.
	Drop SamplingDecision = iota
	// RecordOnly records the span but does not set the sampled flag,
	// so it is not exported.
	RecordOnly
	// RecordAndSample records the span and sets the sampled flag.
	RecordAndSample
)

// String returns the decision name.
func (d SamplingDecision) String() string {
	switch d {
	case Drop:
		return "drop"
	case RecordOnly:
		return "record_only"
	case RecordAndSample:
		return "record_and_sample"
	default:
		return "unknown"
	}
}

// SamplingParameters are the inputs of a sampling decision.
type SamplingParameters struct {
	ParentContext Context
	Name          string
	Attributes    []Attribute
	Links         []Link
	TraceID       TraceID
	Kind          SpanKind
}

// SamplingResult is a decision plus attributes to merge into the span and
// the trace state the new span should carry.
type SamplingResult struct {
	Attributes []Attribute
	TraceState TraceState
	Decision   SamplingDecision
}

// Sampler decides whether a span is recorded and exported. ShouldSample
// must be a pure function of its parameters.
type Sampler interface {
	ShouldSample(p SamplingParameters) SamplingResult
	Description() string
}

// parentTraceState returns the trace state of the parent, which every
// built-in sampler passes through unchanged.
func parentTraceState(p SamplingParameters) TraceState {
	return SpanContextFromContext(p.ParentContext).TraceState()
}

type alwaysOnSampler struct{}

func (alwaysOnSampler) ShouldSample(p SamplingParameters) SamplingResult {
	return SamplingResult{Decision: RecordAndSample, TraceState: parentTraceState(p)}
}

func (alwaysOnSampler) Description() string { return "AlwaysOnSampler" }

// AlwaysOn samples every span.
func AlwaysOn() Sampler { return alwaysOnSampler{} }

type alwaysOffSampler struct{}

func (alwaysOffSampler) ShouldSample(p SamplingParameters) SamplingResult {
	return SamplingResult{Decision: Drop, TraceState: parentTraceState(p)}
}

func (alwaysOffSampler) Description() string { return "AlwaysOffSampler" }

// AlwaysOff drops every span.
func AlwaysOff() Sampler { return alwaysOffSampler{} }

// traceIDRatioLimit is the size of the space of the 60 low-order bits of a
// trace ID used for ratio sampling.
const traceIDRatioLimit = uint64(1) << 60

type traceIDRatioSampler struct {
	description string
	threshold   uint64
	ratio       float64
}

// TraceIDRatioBased samples a fixed fraction of traces. The decision
// depends only on the trace ID, so every process that sees a trace makes
// the same choice. Ratios outside [0, 1] are rejected.
func TraceIDRatioBased(ratio float64) (Sampler, error) {
	if ratio < 0 || ratio > 1 || ratio != ratio {
		return nil, fmt.Errorf("%w: sampling ratio must be within [0, 1], got %v", ErrInvalidConfig, ratio)
	}
	return &traceIDRatioSampler{
		ratio:       ratio,
		threshold:   uint64(ratio * float64(traceIDRatioLimit)),
		description: fmt.Sprintf("TraceIdRatioBased{%g}", ratio),
	}, nil
}

func (s *traceIDRatioSampler) ShouldSample(p SamplingParameters) SamplingResult {
	result := SamplingResult{Decision: Drop, TraceState: parentTraceState(p)}
	switch {
	case s.ratio >= 1:
		result.Decision = RecordAndSample
	case s.ratio <= 0:
	default:
		low := binary.BigEndian.Uint64(p.TraceID[8:16]) & (traceIDRatioLimit - 1)
		if low < s.threshold {
			result.Decision = RecordAndSample
		}
	}
	return result
}

func (s *traceIDRatioSampler) Description() string { return s.description }

// ParentBasedOption overrides one branch of a ParentBased sampler.
type ParentBasedOption func(*parentBasedSampler)

// WithRemoteParentSampled sets the sampler for sampled remote parents.
func WithRemoteParentSampled(s Sampler) ParentBasedOption {
	return func(p *parentBasedSampler) { p.remoteSampled = s }
}

// WithRemoteParentNotSampled sets the sampler for unsampled remote parents.
func WithRemoteParentNotSampled(s Sampler) ParentBasedOption {
	return func(p *parentBasedSampler) { p.remoteNotSampled = s }
}

// WithLocalParentSampled sets the sampler for sampled local parents.
func WithLocalParentSampled(s Sampler) ParentBasedOption {
	return func(p *parentBasedSampler) { p.localSampled = s }
}

// WithLocalParentNotSampled sets the sampler for unsampled local parents.
func WithLocalParentNotSampled(s Sampler) ParentBasedOption {
	return func(p *parentBasedSampler) { p.localNotSampled = s }
}

type parentBasedSampler struct {
	root             Sampler
	remoteSampled    Sampler
	remoteNotSampled Sampler
	localSampled     Sampler
	localNotSampled  Sampler
}

// ParentBased follows the parent's sampled flag. Spans without a valid
// parent are decided by root.
func ParentBased(root Sampler, opts ...ParentBasedOption) Sampler {
	p := &parentBasedSampler{
		root:             root,
		remoteSampled:    AlwaysOn(),
		remoteNotSampled: AlwaysOff(),
		localSampled:     AlwaysOn(),
		localNotSampled:  AlwaysOff(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *parentBasedSampler) ShouldSample(params SamplingParameters) SamplingResult {
	parent := SpanContextFromContext(params.ParentContext)
	switch {
	case !parent.IsValid():
		return p.root.ShouldSample(params)
	case parent.IsRemote() && parent.IsSampled():
		return p.remoteSampled.ShouldSample(params)
	case parent.IsRemote():
		return p.remoteNotSampled.ShouldSample(params)
	case parent.IsSampled():
		return p.localSampled.ShouldSample(params)
	default:
		return p.localNotSampled.ShouldSample(params)
	}
}

func (p *parentBasedSampler) Description() string {
	return fmt.Sprintf("ParentBased{root:%s,remoteParentSampled:%s,remoteParentNotSampled:%s,localParentSampled:%s,localParentNotSampled:%s}",
		p.root.Description(),
		p.remoteSampled.Description(),
		p.remoteNotSampled.Description(),
		p.localSampled.Description(),
		p.localNotSampled.Description(),
	)
}

// AttributeMode selects how AttributeBased treats a match.
type AttributeMode string

// Attribute sampler modes.
const (
	// AttributeAllow drops spans lacking the attribute and samples matches.
	AttributeAllow AttributeMode = "allow"
	// AttributeDeny drops matches.
	AttributeDeny AttributeMode = "deny"
)

type attributeSampler struct {
	delegate Sampler
	pattern  *regexp.Regexp
	mode     AttributeMode
	key      string
}

// AttributeBased decides on a start attribute matched against pattern and
// defers to delegate otherwise.
func AttributeBased(delegate Sampler, mode AttributeMode, key, pattern string) (Sampler, error) {
	if mode != AttributeAllow && mode != AttributeDeny {
		return nil, fmt.Errorf("%w: unknown attribute sampler mode %q", ErrInvalidConfig, mode)
	}
	if delegate == nil {
		return nil, fmt.Errorf("%w: attribute sampler requires a delegate", ErrInvalidConfig)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: attribute sampler pattern: %v", ErrInvalidConfig, err)
	}
	return &attributeSampler{delegate: delegate, mode: mode, key: key, pattern: re}, nil
}

func (s *attributeSampler) ShouldSample(p SamplingParameters) SamplingResult {
	value, ok := findAttribute(p.Attributes, s.key)
	switch s.mode {
	case AttributeAllow:
		if !ok {
			return SamplingResult{Decision: Drop, TraceState: parentTraceState(p)}
		}
		if s.pattern.MatchString(value.Emit()) {
			return SamplingResult{Decision: RecordAndSample, TraceState: parentTraceState(p)}
		}
	case AttributeDeny:
		if ok && s.pattern.MatchString(value.Emit()) {
			return SamplingResult{Decision: Drop, TraceState: parentTraceState(p)}
		}
	}
	return s.delegate.ShouldSample(p)
}

func (s *attributeSampler) Description() string {
	return fmt.Sprintf("AttributeSampler{%s,%s,%s}+%s", s.mode, s.key, s.pattern, s.delegate.Description())
}
