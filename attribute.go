package otelz

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the type held by a Value.
type ValueKind int

// Value kinds.
const (
	KindEmpty ValueKind = iota
	KindString
	KindInt64
	KindFloat64
	KindBool
)

// Value is a typed attribute value.
type Value struct {
	s    string
	n    int64
	f    float64
	kind ValueKind
	b    bool
}

// Kind returns the type of the value.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string payload.
func (v Value) AsString() string { return v.s }

// AsInt64 returns the integer payload.
func (v Value) AsInt64() int64 { return v.n }

// AsFloat64 returns the float payload.
func (v Value) AsFloat64() float64 { return v.f }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.b }

// Interface returns the payload as an untyped value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt64:
		return v.n
	case KindFloat64:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Emit renders the value as a string.
func (v Value) Emit() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt64:
		return strconv.FormatInt(v.n, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON encodes the payload.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Attribute is a key/value pair attached to spans, events and links.
type Attribute struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Valid reports whether the attribute has a key and a value.
func (a Attribute) Valid() bool {
	return a.Key != "" && a.Value.kind != KindEmpty
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: Value{kind: KindString, s: value}}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Int64(key, int64(value))
}

// Int64 creates an integer attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: Value{kind: KindInt64, n: value}}
}

// Float64 creates a float attribute.
func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: Value{kind: KindFloat64, f: value}}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: Value{kind: KindBool, b: value}}
}

// Stringer creates a string attribute from a fmt.Stringer.
func Stringer(key string, value fmt.Stringer) Attribute {
	return String(key, value.String())
}

// attributeSet keeps attributes in insertion order with a count limit.
// Updating an existing key never counts against the limit.
type attributeSet struct {
	index       map[string]int
	attrs       []Attribute
	limit       int
	valueLength int
	dropped     int
}

func newAttributeSet(limit, valueLength int) *attributeSet {
	return &attributeSet{limit: limit, valueLength: valueLength}
}

func (s *attributeSet) set(a Attribute) {
	if !a.Valid() {
		return
	}
	if s.valueLength > 0 && a.Value.kind == KindString && len(a.Value.s) > s.valueLength {
		a.Value.s = truncateRunes(a.Value.s, s.valueLength)
	}
	if i, ok := s.index[a.Key]; ok {
		s.attrs[i] = a
		return
	}
	if s.limit >= 0 && len(s.attrs) >= s.limit {
		s.dropped++
		return
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[a.Key] = len(s.attrs)
	s.attrs = append(s.attrs, a)
}

// truncateRunes cuts v to at most n characters without splitting a rune.
func truncateRunes(v string, n int) string {
	count := 0
	for i := range v {
		if count == n {
			return v[:i]
		}
		count++
	}
	return v
}

func (s *attributeSet) snapshot() []Attribute {
	if len(s.attrs) == 0 {
		return nil
	}
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// findAttribute returns the value of key in attrs.
func findAttribute(attrs []Attribute, key string) (Value, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return Value{}, false
}
