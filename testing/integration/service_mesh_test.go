package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/otelz"
)

// TestServiceMeshCommunication traces a checkout flow fanning out across
// several services.
func TestServiceMeshCommunication(t *testing.T) {
	h := NewHarness(t)
	tracer := h.Tracer("service-mesh")

	api := NewMockService("api-gateway", tracer)
	auth := NewMockService("auth-service", tracer)
	catalog := NewMockService("catalog-service", tracer)
	inventory := NewMockService("inventory-service", tracer)
	payment := NewMockService("payment-service", tracer)

	api.SetLatency(time.Millisecond)
	auth.SetLatency(2 * time.Millisecond)
	catalog.SetLatency(3 * time.Millisecond)
	payment.SetLatency(5 * time.Millisecond)

	ctx, root := tracer.Start(context.Background(), "checkout-flow", otelz.WithSpanKind(otelz.SpanKindServer))
	root.SetAttributes(otelz.String("flow", "checkout"), otelz.String("user_id", "user-123"))

	require.NoError(t, api.Call(ctx, "receive-request"))
	require.NoError(t, auth.Call(ctx, "verify-token"))

	itemIDs := []string{"item-1", "item-2", "item-3"}
	var wg sync.WaitGroup
	for _, id := range itemIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			itemCtx, item := tracer.Start(ctx, "fetch-"+id)
			defer item.End()
			item.SetAttributes(otelz.String("item_id", id))
			assert.NoError(t, catalog.Call(itemCtx, "get-item-details"))
			assert.NoError(t, inventory.Call(itemCtx, "check-availability"))
		}(id)
	}
	wg.Wait()

	require.NoError(t, payment.Call(ctx, "process-payment"))
	root.End()

	expected := 1 + 1 + 1 + len(itemIDs)*3 + 1
	h.AssertSpanCount(expected)

	analyzer := NewTraceAnalyzer(h.Spans())
	assert.Len(t, analyzer.TraceIDs(), 1, "all spans share one trace")
	assert.Equal(t, 1, analyzer.CountTrees())

	for _, name := range []string{
		"api-gateway.receive-request",
		"auth-service.verify-token",
		"payment-service.process-payment",
	} {
		assert.NoError(t, analyzer.VerifyChain("checkout-flow", name))
	}
	assert.Len(t, analyzer.GetSpansByName("catalog-service.get-item-details"), len(itemIDs))
	assert.NoError(t, analyzer.VerifyChain("checkout-flow", "fetch-item-2", "inventory-service.check-availability"))

	rootRec := h.AssertSpanNamed("checkout-flow")
	assert.Equal(t, 6, rootRec.ChildSpanCount)

	path := analyzer.GetCriticalPath()
	require.NotEmpty(t, path)
	assert.Equal(t, "checkout-flow", path[0].Name)
	t.Logf("trace:\n%s", PrintSpanTree(BuildSpanTree(h.Spans())))
}

// TestServiceMeshPartialFailure verifies failing calls mark their spans
// without affecting siblings.
func TestServiceMeshPartialFailure(t *testing.T) {
	h := NewHarness(t)
	tracer := h.Tracer("service-mesh")

	healthy := NewMockService("healthy", tracer)
	broken := NewMockService("broken", tracer)
	broken.SetFailureRate(1)

	ctx, root := tracer.Start(context.Background(), "request")
	assert.NoError(t, healthy.Call(ctx, "op"))
	err := broken.Call(ctx, "op")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errServiceFailure))
	if err != nil {
		root.SetStatus(otelz.StatusError, fmt.Sprintf("downstream: %v", err))
	}
	root.End()

	failed := h.AssertSpanNamed("broken.op")
	assert.Equal(t, otelz.StatusError, failed.Status.Code)
	require.Len(t, failed.Events, 1)
	assert.Equal(t, "exception", failed.Events[0].Name)

	ok := h.AssertSpanNamed("healthy.op")
	assert.Equal(t, otelz.StatusOK, ok.Status.Code)

	assert.Equal(t, otelz.StatusError, h.AssertSpanNamed("request").Status.Code)
}

// TestServiceMeshTimeout verifies cancellation reaches in-flight calls.
func TestServiceMeshTimeout(t *testing.T) {
	h := NewHarness(t)
	tracer := h.Tracer("service-mesh")

	slow := NewMockService("slow", tracer)
	slow.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ctx, root := tracer.Start(ctx, "request")
	err := slow.Call(ctx, "op")
	root.End()

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	rec := h.AssertSpanNamed("slow.op")
	assert.Equal(t, otelz.StatusError, rec.Status.Code)
	assert.Less(t, rec.Duration(), time.Second)
	h.AssertParentChild("request", "slow.op")
}
