// Package otelz is an OpenTelemetry tracing core: context propagation,
// span lifecycle, sampling and batched export.
//
// Core Components:
//   - Context: immutable key/value chain carrying the current span and baggage.
//   - Storage: the current Context of one execution strand, with LIFO scopes.
//   - TracerProvider: sampler, limits, clock and the span processor chain.
//   - Tracer: creates spans for one instrumentation scope.
//   - BatchProcessor: queues ended spans and exports them in batches.
//   - TextMapPropagator: W3C traceparent, tracestate and baggage headers.
//
// Basic Usage:
//
//	exporter := otelz.NewInMemoryExporter()
//	bsp, err := otelz.NewBatchProcessor(exporter)
//	if err != nil {
//		return err
//	}
//	provider, err := otelz.NewTracerProvider(otelz.WithSpanProcessor(bsp))
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(context.Background())
//
//	tracer := provider.Tracer("checkout", "1.0.0")
//	ctx, span := tracer.Start(ctx, "charge-card")
//	defer span.End()
//
//	span.SetAttributes(otelz.String("user.id", "123"))
//
//	// Child spans pick up the parent from ctx.
//	_, child := tracer.Start(ctx, "call-bank")
//	defer child.End()
//
// Current Context:
//
// Go has no goroutine-local storage. Contexts travel inside context.Context
// (IntoGoContext / FromGoContext) or through an explicit Storage. A span
// started from a context.Context without an embedded Context, or through a
// SpanBuilder without SetParent, takes its parent from the provider's
// Storage. Give each goroutine its own Storage via Storage.Fork.
//
// Thread Safety:
//
// Context, SpanContext, TraceState and Baggage are immutable. Spans,
// tracers, providers, processors and exporters are safe for concurrent use.
// A SpanBuilder is not.
//
// Resource Cleanup:
//
// Call TracerProvider.Shutdown to flush processors and stop background
// goroutines. Spans started after shutdown are non-recording.
package otelz
