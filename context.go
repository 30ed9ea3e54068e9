package otelz

import (
	"context"
)

// ContextKey namespaces a value stored in a Context.
// Keys compare by identity; the name is only used for debugging.
type ContextKey struct {
	name string
}

// NewContextKey creates a new unique key.
func NewContextKey(name string) *ContextKey {
	return &ContextKey{name: name}
}

// String returns the debug name of the key.
func (k *ContextKey) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.name
}

// contextNode is a single immutable link in a Context chain.
type contextNode struct {
	parent *contextNode
	key    *ContextKey
	value  any
	depth  int
}

// Context is an immutable chain of key/value entries.
// The zero value is the root context: no parent and no entries.
// Contexts are safe to share between goroutines.
type Context struct {
	node *contextNode
}

// Root returns the root context.
func Root() Context {
	return Context{}
}

// IsRoot reports whether c has no entries.
func (c Context) IsRoot() bool {
	return c.node == nil
}

// With returns a new Context holding value under key.
// c is unchanged and shares its chain with the result.
func (c Context) With(key *ContextKey, value any) Context {
	depth := 1
	if c.node != nil {
		depth = c.node.depth + 1
	}
	return Context{node: &contextNode{
		parent: c.node,
		key:    key,
		value:  value,
		depth:  depth,
	}}
}

// Value walks the chain from the newest entry and returns the first value
// stored under key.
func (c Context) Value(key *ContextKey) (any, bool) {
	for n := c.node; n != nil; n = n.parent {
		if n.key == key {
			return n.value, true
		}
	}
	return nil, false
}

// Depth returns the number of entries in the chain.
func (c Context) Depth() int {
	if c.node == nil {
		return 0
	}
	return c.node.depth
}

// Equal reports whether c and other are the same chain.
func (c Context) Equal(other Context) bool {
	return c.node == other.node
}

// goContextKeyType is a private type for context keys to avoid collisions.
type goContextKeyType struct{}

var goContextKey goContextKeyType

// IntoGoContext embeds c into a standard library context so it can travel
// along ordinary call chains and across goroutines.
func IntoGoContext(ctx context.Context, c Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, goContextKey, c)
}

// FromGoContext returns the Context embedded in ctx, or the root context.
func FromGoContext(ctx context.Context) Context {
	c, _ := lookupGoContext(ctx)
	return c
}

// lookupGoContext reports whether ctx carries a Context at all, so callers
// can tell an embedded root apart from nothing.
func lookupGoContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Root(), false
	}
	c, ok := ctx.Value(goContextKey).(Context)
	return c, ok
}
