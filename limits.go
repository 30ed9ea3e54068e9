package otelz

import "fmt"

// Default span limits.
const (
	DefaultAttributeCountLimit         = 128
	DefaultEventCountLimit             = 128
	DefaultLinkCountLimit              = 128
	DefaultAttributePerEventCountLimit = 128
	DefaultAttributePerLinkCountLimit  = 128
)

// SpanLimits bounds the memory a single span can hold. Entries past a limit
// are dropped and counted on the span.
type SpanLimits struct {
	// AttributeValueLengthLimit truncates string values; 0 means unlimited.
	AttributeValueLengthLimit   int
	AttributeCountLimit         int
	EventCountLimit             int
	LinkCountLimit              int
	AttributePerEventCountLimit int
	AttributePerLinkCountLimit  int
}

// DefaultSpanLimits returns the limits used when none are configured.
func DefaultSpanLimits() SpanLimits {
	return SpanLimits{
		AttributeCountLimit:         DefaultAttributeCountLimit,
		EventCountLimit:             DefaultEventCountLimit,
		LinkCountLimit:              DefaultLinkCountLimit,
		AttributePerEventCountLimit: DefaultAttributePerEventCountLimit,
		AttributePerLinkCountLimit:  DefaultAttributePerLinkCountLimit,
	}
}

// Validate rejects negative limits.
func (l SpanLimits) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"attribute value length limit", l.AttributeValueLengthLimit},
		{"attribute count limit", l.AttributeCountLimit},
		{"event count limit", l.EventCountLimit},
		{"link count limit", l.LinkCountLimit},
		{"attribute per event count limit", l.AttributePerEventCountLimit},
		{"attribute per link count limit", l.AttributePerLinkCountLimit},
	}
	for _, c := range checks {
		if c.value < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %d", ErrInvalidConfig, c.name, c.value)
		}
	}
	return nil
}
