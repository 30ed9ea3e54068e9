package integration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/otelz"
)

// Harness wires a provider to an in-memory exporter through a synchronous
// processor so tests can inspect every ended span immediately.
type Harness struct {
	Provider *otelz.TracerProvider
	Exporter *otelz.InMemoryExporter
	Storage  *otelz.Storage
	t        *testing.T
}

// NewHarness creates a harness with its own storage. The provider is shut
// down when the test ends.
func NewHarness(t *testing.T, opts ...otelz.ProviderOption) *Harness {
	t.Helper()
	exporter := otelz.NewInMemoryExporter()
	storage := otelz.NewStorage()
	all := append([]otelz.ProviderOption{
		otelz.WithStorage(storage),
		otelz.WithSpanProcessor(otelz.NewSimpleProcessor(exporter)),
	}, opts...)
	provider, err := otelz.NewTracerProvider(all...)
	if err != nil {
		t.Fatalf("creating provider: %v", err)
	}
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background()) //nolint:errcheck
	})
	return &Harness{Provider: provider, Exporter: exporter, Storage: storage, t: t}
}

// Tracer returns a tracer for scope name.
func (h *Harness) Tracer(name string) *otelz.Tracer {
	return h.Provider.Tracer(name, "")
}

// Spans returns every exported span.
func (h *Harness) Spans() []otelz.SpanRecord {
	return h.Exporter.Spans()
}

// AssertSpanCount fails the test unless exactly expected spans were exported.
func (h *Harness) AssertSpanCount(expected int) {
	h.t.Helper()
	if n := h.Exporter.Count(); n != expected {
		h.t.Errorf("expected %d spans, got %d", expected, n)
	}
}

// AssertSpanNamed returns the first span called name, failing if absent.
func (h *Harness) AssertSpanNamed(name string) otelz.SpanRecord {
	h.t.Helper()
	for _, s := range h.Spans() {
		if s.Name == name {
			return s
		}
	}
	h.t.Fatalf("span %q not found", name)
	return otelz.SpanRecord{}
}

// AssertParentChild checks that child's parent is parent.
func (h *Harness) AssertParentChild(parentName, childName string) {
	h.t.Helper()
	parent := h.AssertSpanNamed(parentName)
	child := h.AssertSpanNamed(childName)
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		h.t.Errorf("%q is not a child of %q", childName, parentName)
	}
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		h.t.Errorf("%q and %q are in different traces", childName, parentName)
	}
}

// SpanTree is a span and its children.
type SpanTree struct {
	Span     otelz.SpanRecord
	Children []*SpanTree
}

// BuildSpanTree arranges spans into trees. Spans whose parent was not
// exported become roots.
func BuildSpanTree(spans []otelz.SpanRecord) []*SpanTree {
	nodes := make(map[otelz.SpanID]*SpanTree, len(spans))
	for _, s := range spans {
		nodes[s.SpanContext.SpanID()] = &SpanTree{Span: s}
	}

	var roots []*SpanTree
	for _, s := range spans {
		node := nodes[s.SpanContext.SpanID()]
		if parent, ok := nodes[s.Parent.SpanID()]; ok && s.Parent.IsValid() {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool {
			return n.Children[i].Span.StartTime.Before(n.Children[j].Span.StartTime)
		})
	}
	return roots
}

// PrintSpanTree renders trees with indentation, one span per line.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	fmt.Fprintf(sb, "%s%s (%v)\n", strings.Repeat("  ", depth), node.Span.Name, node.Span.Duration())
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// errServiceFailure is returned by a MockService configured to fail.
var errServiceFailure = errors.New("service failure")

// MockService simulates a downstream dependency that records a client span
// for every call.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockService struct {
	name        string
	tracer      *otelz.Tracer
	mu          sync.Mutex
	latency     time.Duration
	failureRate float64
}

// NewMockService creates a service that traces through tracer.
func NewMockService(name string, tracer *otelz.Tracer) *MockService {
	return &MockService{name: name, tracer: tracer}
}

// SetLatency sets how long each call takes.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetFailureRate sets the fraction of calls that fail.
func (m *MockService) SetFailureRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureRate = rate
}

// Call performs operation as a child of the span in ctx.
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	latency, failureRate := m.latency, m.failureRate
	m.mu.Unlock()

	_, span := m.tracer.Start(ctx, m.name+"."+operation, otelz.WithSpanKind(otelz.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		otelz.String("peer.service", m.name),
		otelz.String("operation", operation),
	)

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(otelz.StatusError, "cancelled")
			return ctx.Err()
		}
	}

	if failureRate > 0 && rand.Float64() < failureRate {
		span.RecordError(errServiceFailure)
		span.SetStatus(otelz.StatusError, errServiceFailure.Error())
		return fmt.Errorf("%s.%s: %w", m.name, operation, errServiceFailure)
	}
	span.SetStatus(otelz.StatusOK, "")
	return nil
}

// TraceAnalyzer answers structural questions about exported spans.
type TraceAnalyzer struct {
	spans  []otelz.SpanRecord
	byID   map[otelz.SpanID]otelz.SpanRecord
	byName map[string][]otelz.SpanRecord
	trees  []*SpanTree
}

// NewTraceAnalyzer indexes spans.
func NewTraceAnalyzer(spans []otelz.SpanRecord) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[otelz.SpanID]otelz.SpanRecord, len(spans)),
		byName: make(map[string][]otelz.SpanRecord),
		trees:  BuildSpanTree(spans),
	}
	for _, s := range spans {
		a.byID[s.SpanContext.SpanID()] = s
		a.byName[s.Name] = append(a.byName[s.Name], s)
	}
	return a
}

// GetSpansByName returns the spans called name.
func (a *TraceAnalyzer) GetSpansByName(name string) []otelz.SpanRecord {
	return a.byName[name]
}

// CountSpans returns the number of spans.
func (a *TraceAnalyzer) CountSpans() int { return len(a.spans) }

// CountTrees returns the number of root spans.
func (a *TraceAnalyzer) CountTrees() int { return len(a.trees) }

// TraceIDs returns the distinct trace IDs.
func (a *TraceAnalyzer) TraceIDs() map[otelz.TraceID]int {
	ids := make(map[otelz.TraceID]int)
	for _, s := range a.spans {
		ids[s.SpanContext.TraceID()]++
	}
	return ids
}

// VerifyChain checks that names form a parent to child chain.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	for i := 1; i < len(names); i++ {
		parents := a.byName[names[i-1]]
		children := a.byName[names[i]]
		if len(parents) == 0 || len(children) == 0 {
			return fmt.Errorf("missing span in chain %q -> %q", names[i-1], names[i])
		}
		found := false
		for _, c := range children {
			for _, p := range parents {
				if c.Parent.SpanID() == p.SpanContext.SpanID() {
					found = true
				}
			}
		}
		if !found {
			return fmt.Errorf("%q is not a child of %q", names[i], names[i-1])
		}
	}
	return nil
}

// GetCriticalPath returns the root-to-leaf path with the longest total
// duration.
func (a *TraceAnalyzer) GetCriticalPath() []otelz.SpanRecord {
	var longest []otelz.SpanRecord
	for _, root := range a.trees {
		path := findLongestPath(root)
		if pathDuration(path) > pathDuration(longest) {
			longest = path
		}
	}
	return longest
}

func findLongestPath(node *SpanTree) []otelz.SpanRecord {
	var best []otelz.SpanRecord
	for _, child := range node.Children {
		path := findLongestPath(child)
		if pathDuration(path) > pathDuration(best) {
			best = path
		}
	}
	return append([]otelz.SpanRecord{node.Span}, best...)
}

func pathDuration(path []otelz.SpanRecord) time.Duration {
	var total time.Duration
	for _, s := range path {
		total += s.Duration()
	}
	return total
}
