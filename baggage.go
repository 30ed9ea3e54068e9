package otelz

import "sort"

// Baggage is an immutable set of key/value entries propagated alongside a
// trace. Set and Remove rebuild the set; existing values are never changed
// in place, so a Baggage captured earlier keeps its contents.
type Baggage struct {
	entries map[string]BaggageEntry
}

// BaggageEntry is a single baggage value and its optional metadata.
type BaggageEntry struct {
	Value    string
	Metadata string
}

var baggageKey = NewContextKey("otelz.baggage")

// EmptyBaggage returns a baggage with no entries.
func EmptyBaggage() Baggage { return Baggage{} }

// Get returns the value for key.
func (b Baggage) Get(key string) (string, bool) {
	e, ok := b.entries[key]
	return e.Value, ok
}

// Entry returns the full entry for key.
func (b Baggage) Entry(key string) (BaggageEntry, bool) {
	e, ok := b.entries[key]
	return e, ok
}

// Len returns the number of entries.
func (b Baggage) Len() int { return len(b.entries) }

// Keys returns the keys in sorted order.
func (b Baggage) Keys() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set returns a new Baggage with key set to value.
func (b Baggage) Set(key, value string) Baggage {
	return b.SetEntry(key, BaggageEntry{Value: value})
}

// SetEntry returns a new Baggage with key set to entry.
func (b Baggage) SetEntry(key string, entry BaggageEntry) Baggage {
	if key == "" {
		return b
	}
	next := make(map[string]BaggageEntry, len(b.entries)+1)
	for k, v := range b.entries {
		next[k] = v
	}
	next[key] = entry
	return Baggage{entries: next}
}

// Remove returns a new Baggage without key. The result is always valid,
// and empty when the last entry is removed.
func (b Baggage) Remove(key string) Baggage {
	if _, ok := b.entries[key]; !ok {
		return b
	}
	if len(b.entries) == 1 {
		return Baggage{}
	}
	next := make(map[string]BaggageEntry, len(b.entries)-1)
	for k, v := range b.entries {
		if k != key {
			next[k] = v
		}
	}
	return Baggage{entries: next}
}

// ContextWithBaggage returns a Context carrying b.
func ContextWithBaggage(c Context, b Baggage) Context {
	return c.With(baggageKey, b)
}

// BaggageFromContext returns the baggage in c, or an empty baggage.
func BaggageFromContext(c Context) Baggage {
	if v, ok := c.Value(baggageKey); ok {
		if b, ok := v.(Baggage); ok {
			return b
		}
	}
	return Baggage{}
}
