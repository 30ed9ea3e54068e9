package otelz

import (
	"crypto/rand"
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/zoobzio/clockz"
)

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool[T any] struct {
	factory func() T
	ids     chan T
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a pool holding up to capacity pre-generated IDs.
func NewIDPool[T any](capacity int, factory func() T) *IDPool[T] {
	pool := &IDPool[T]{
		ids:     make(chan T, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if pool is empty.
func (p *IDPool[T]) Get() T {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool empty, generate directly (fallback for burst load).
		return p.factory()
	}
}

func (p *IDPool[T]) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
		}
	}
}

// Close stops the background refill. Get keeps working afterwards.
func (p *IDPool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// IDGenerator creates new trace and span IDs. Implementations must never
// return the all-zero ID.
type IDGenerator interface {
	NewTraceID() TraceID
	NewSpanID() SpanID
}

// randomIDGenerator draws IDs from crypto/rand through two pools.
type randomIDGenerator struct {
	clock  clockz.Clock
	traces *IDPool[TraceID]
	spans  *IDPool[SpanID]
	once   sync.Once
}

func newRandomIDGenerator(clock clockz.Clock) *randomIDGenerator {
	return &randomIDGenerator{clock: clock}
}

// ensurePools starts the pools on first use.
func (g *randomIDGenerator) ensurePools() {
	g.once.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		size := runtime.NumCPU() * 100
		g.traces = NewIDPool(size, func() TraceID {
			var id TraceID
			g.fill(id[:])
			return id
		})
		g.spans = NewIDPool(size, func() SpanID {
			var id SpanID
			g.fill(id[:])
			return id
		})
	})
}

// fill writes random non-zero bytes into buf.
func (g *randomIDGenerator) fill(buf []byte) {
	for {
		if _, err := rand.Read(buf); err != nil {
			// Fallback to a time-based ID if crypto/rand fails.
			binary.BigEndian.PutUint64(buf[len(buf)-8:], uint64(g.clock.Now().UnixNano()))
		}
		for _, b := range buf {
			if b != 0 {
				return
			}
		}
	}
}

func (g *randomIDGenerator) NewTraceID() TraceID {
	g.ensurePools()
	return g.traces.Get()
}

func (g *randomIDGenerator) NewSpanID() SpanID {
	g.ensurePools()
	return g.spans.Get()
}

func (g *randomIDGenerator) close() {
	g.ensurePools()
	g.traces.Close()
	g.spans.Close()
}
