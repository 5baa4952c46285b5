package rpc

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	opAttrs := map[string]string{
		labelClass:     "node0",
		labelOperation: "echo",
	}
	metrics.RequestForwarded(opAttrs)
	metrics.RequestDispatched(opAttrs)
	metrics.ResponseSent(opAttrs)

	cbAttrs := map[string]string{
		labelClass:  "node0",
		labelStatus: "SUCCESS",
	}
	metrics.CallbackDispatched(cbAttrs)

	classAttrs := map[string]string{labelClass: "node0"}
	metrics.HandleCanceled(classAttrs)
	metrics.ProgressError("na_progress", errors.New("boom"), classAttrs)
	metrics.ListenPosted(classAttrs)

	ctx := context.Background()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]float64{
		"rpc.requests.forwarded":   1,
		"rpc.requests.dispatched":  1,
		"rpc.responses.sent":       1,
		"rpc.callbacks.dispatched": 1,
		"rpc.handles.canceled":     1,
		"rpc.progress.errors":      1,
		"rpc.listen.posted":        1,
	}

	for name, want := range cases {
		if got := otelCounterValue(rm, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func otelCounterValue(rm metricdata.ResourceMetrics, name string) float64 {
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var sum float64
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
				return sum
			}
		}
	}
	return 0
}
