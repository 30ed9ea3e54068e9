package otelz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Batch processor defaults.
const (
	DefaultMaxQueueSize       = 2048
	DefaultScheduleDelay      = 5 * time.Second
	DefaultExportTimeout      = 30 * time.Second
	DefaultMaxExportBatchSize = 512
)

const (
	batchRunning int32 = iota
	batchShuttingDown
	batchShutdown
)

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithMaxQueueSize bounds the number of spans waiting for export.
func WithMaxQueueSize(n int) BatchOption {
	return func(b *BatchProcessor) { b.maxQueueSize = n }
}

// WithScheduleDelay sets the interval between scheduled exports.
func WithScheduleDelay(d time.Duration) BatchOption {
	return func(b *BatchProcessor) { b.scheduleDelay = d }
}

// WithExportTimeout bounds a single export call.
func WithExportTimeout(d time.Duration) BatchOption {
	return func(b *BatchProcessor) { b.exportTimeout = d }
}

// WithMaxExportBatchSize bounds the number of spans per export call.
func WithMaxExportBatchSize(n int) BatchOption {
	return func(b *BatchProcessor) { b.maxExportBatchSize = n }
}

// WithBatchClock sets the clock driving the schedule.
func WithBatchClock(c clockz.Clock) BatchOption {
	return func(b *BatchProcessor) { b.clock = c }
}

// WithBatchLogger sets the logger for drops and export failures.
func WithBatchLogger(l *zap.Logger) BatchOption {
	return func(b *BatchProcessor) { b.logger = l }
}

// WithBatchMetrics records queue and export metrics.
func WithBatchMetrics(m *BatchMetrics) BatchOption {
	return func(b *BatchProcessor) { b.metrics = m }
}

// BatchProcessor queues sampled spans and exports them in batches from a
// background goroutine. A batch is exported when the queue reaches
// maxExportBatchSize or when scheduleDelay elapses. Spans arriving while
// the queue is full are dropped and counted.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type BatchProcessor struct {
	exporter           SpanExporter
	clock              clockz.Clock
	logger             *zap.Logger
	metrics            *BatchMetrics
	dropLog            *rate.Limiter
	queue              []SpanRecord
	wake               chan struct{}
	stopCh             chan struct{}
	done               chan struct{}
	maxQueueSize       int
	maxExportBatchSize int
	scheduleDelay      time.Duration
	exportTimeout      time.Duration
	queueLock          sync.Mutex
	exportLock         sync.Mutex
	state              atomic.Int32
	dropped            atomic.Uint64
	exported           atomic.Uint64
	syncMode           atomic.Bool
}

// NewBatchProcessor creates a processor exporting through exporter and
// starts its worker. Inconsistent options return an error wrapping
// ErrInvalidConfig.
func NewBatchProcessor(exporter SpanExporter, opts ...BatchOption) (*BatchProcessor, error) {
	if exporter == nil {
		return nil, fmt.Errorf("%w: batch processor requires an exporter", ErrInvalidConfig)
	}
	b := &BatchProcessor{
		exporter:           exporter,
		clock:              clockz.RealClock,
		logger:             zap.NewNop(),
		maxQueueSize:       DefaultMaxQueueSize,
		scheduleDelay:      DefaultScheduleDelay,
		exportTimeout:      DefaultExportTimeout,
		maxExportBatchSize: DefaultMaxExportBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if b.clock == nil {
		b.clock = clockz.RealClock
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	b.queue = make([]SpanRecord, 0, b.maxExportBatchSize)
	b.wake = make(chan struct{}, 1)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.dropLog = rate.NewLimiter(rate.Every(time.Second), 1)

	go b.run()
	return b, nil
}

func (b *BatchProcessor) validate() error {
	switch {
	case b.maxQueueSize <= 0:
		return fmt.Errorf("%w: max queue size must be > 0, got %d", ErrInvalidConfig, b.maxQueueSize)
	case b.maxExportBatchSize <= 0:
		return fmt.Errorf("%w: max export batch size must be > 0, got %d", ErrInvalidConfig, b.maxExportBatchSize)
	case b.maxExportBatchSize > b.maxQueueSize:
		return fmt.Errorf("%w: max export batch size %d exceeds max queue size %d",
			ErrInvalidConfig, b.maxExportBatchSize, b.maxQueueSize)
	case b.scheduleDelay <= 0:
		return fmt.Errorf("%w: schedule delay must be > 0, got %v", ErrInvalidConfig, b.scheduleDelay)
	case b.exportTimeout <= 0:
		return fmt.Errorf("%w: export timeout must be > 0, got %v", ErrInvalidConfig, b.exportTimeout)
	}
	return nil
}

var _ SpanProcessor = (*BatchProcessor)(nil)

// run is the worker loop. It exits when stopCh closes; Shutdown exports
// whatever is left.
func (b *BatchProcessor) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stopCh:
			return
		case <-b.wake:
		case <-b.clock.After(b.scheduleDelay):
		}
		if b.syncMode.Load() {
			continue
		}
		b.exportAll(context.Background())
	}
}

// OnStart does nothing.
func (*BatchProcessor) OnStart(Context, Span) {}

// OnEnd queues r if it is sampled and the processor is running.
func (b *BatchProcessor) OnEnd(r SpanRecord) {
	if !r.SpanContext.IsSampled() {
		return
	}
	if b.state.Load() != batchRunning {
		b.logger.Debug("span ended after batch processor shutdown",
			zap.String("span", r.Name),
		)
		return
	}

	b.queueLock.Lock()
	// Shutdown flips the state under queueLock, so a span appended here is
	// always seen by its final export.
	if b.state.Load() != batchRunning {
		b.queueLock.Unlock()
		return
	}
	if len(b.queue) >= b.maxQueueSize {
		b.queueLock.Unlock()
		total := b.dropped.Add(1)
		b.metrics.dropped()
		if b.dropLog.Allow() {
			b.logger.Warn("span queue full, dropping spans",
				zap.String("span", r.Name),
				zap.Int("max_queue_size", b.maxQueueSize),
				zap.Uint64("dropped_total", total),
			)
		}
		return
	}
	b.queue = append(b.queue, r)
	n := len(b.queue)
	b.queueLock.Unlock()

	b.metrics.setQueueLength(n)
	if n >= b.maxExportBatchSize && !b.syncMode.Load() {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// popBatch removes up to maxExportBatchSize spans from the queue.
func (b *BatchProcessor) popBatch() []SpanRecord {
	b.queueLock.Lock()
	defer b.queueLock.Unlock()

	n := len(b.queue)
	if n == 0 {
		return nil
	}
	if n > b.maxExportBatchSize {
		n = b.maxExportBatchSize
	}
	batch := make([]SpanRecord, n)
	copy(batch, b.queue[:n])
	rest := copy(b.queue, b.queue[n:])
	clear(b.queue[rest:])
	b.queue = b.queue[:rest]
	b.metrics.setQueueLength(rest)
	return batch
}

// exportAll exports batches until the queue is empty or ctx ends.
// Exports never overlap: the worker, ForceFlush and Shutdown all hold
// exportLock.
func (b *BatchProcessor) exportAll(ctx context.Context) error {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()

	var err error
	for ctx.Err() == nil {
		batch := b.popBatch()
		if batch == nil {
			return err
		}
		err = multierr.Append(err, b.export(ctx, batch))
	}
	return multierr.Append(err, ctx.Err())
}

func (b *BatchProcessor) export(ctx context.Context, batch []SpanRecord) error {
	ctx, cancel := context.WithTimeout(ctx, b.exportTimeout)
	defer cancel()

	start := b.clock.Now()
	err := b.exporter.ExportSpans(ctx, batch)
	b.metrics.exported(len(batch), b.clock.Since(start).Seconds(), err)
	if err != nil {
		b.logger.Warn("batch export failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return err
	}
	b.exported.Add(uint64(len(batch)))
	return nil
}

// ForceFlush exports every queued span and flushes the exporter. It
// returns when done or when ctx ends, whichever comes first.
func (b *BatchProcessor) ForceFlush(ctx context.Context) error {
	if b.state.Load() == batchShutdown {
		return ErrProcessorShutdown
	}
	result := make(chan error, 1)
	go func() {
		err := b.exportAll(ctx)
		result <- multierr.Append(err, b.exporter.ForceFlush(ctx))
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker, exports what is queued and shuts the
// exporter down. Only the first call has an effect; later calls return
// nil.
func (b *BatchProcessor) Shutdown(ctx context.Context) error {
	b.queueLock.Lock()
	if !b.state.CompareAndSwap(batchRunning, batchShuttingDown) {
		b.queueLock.Unlock()
		return nil
	}
	b.queueLock.Unlock()
	defer b.state.Store(batchShutdown)

	close(b.stopCh)
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("batch processor worker did not stop before shutdown deadline")
	}

	err := b.exportAll(ctx)
	err = multierr.Append(err, b.exporter.Shutdown(ctx))
	if pending := b.QueueLength(); pending > 0 {
		b.logger.Warn("batch processor shut down with spans still queued",
			zap.Int("pending", pending),
		)
	}
	return err
}

// DroppedSpans returns the number of spans dropped because the queue was full.
func (b *BatchProcessor) DroppedSpans() uint64 {
	return b.dropped.Load()
}

// ExportedSpans returns the number of spans exported successfully.
func (b *BatchProcessor) ExportedSpans() uint64 {
	return b.exported.Load()
}

// QueueLength returns the number of spans waiting for export.
func (b *BatchProcessor) QueueLength() int {
	b.queueLock.Lock()
	defer b.queueLock.Unlock()
	return len(b.queue)
}

// SetSyncMode disables the size and schedule triggers so that exports
// happen only through ForceFlush and Shutdown.
// This makes tests deterministic by eliminating async behavior.
func (b *BatchProcessor) SetSyncMode(sync bool) {
	b.syncMode.Store(sync)
}
