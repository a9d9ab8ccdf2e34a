package common_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/guarzo/crisiscircle/common"
)

// counterTotal sums every data point of the named int64 sum metric.
func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMetrics_Collects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := common.NewMetrics(provider.Meter("crisiscircle-test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.Request(ctx, "GET", 200)
	m.Request(ctx, "GET", 401)
	m.Request(ctx, "POST", 0)
	m.Refresh(ctx, true)
	m.ForcedLogout(ctx, "refresh_failed")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := counterTotal(rm, common.MetricRequests); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
	if got := counterTotal(rm, common.MetricRefreshes); got != 1 {
		t.Errorf("expected 1 refresh, got %d", got)
	}
	if got := counterTotal(rm, common.MetricForcedLogouts); got != 1 {
		t.Errorf("expected 1 forced logout, got %d", got)
	}
}

func TestNopMetrics(t *testing.T) {
	m := common.NopMetrics()
	m.Request(context.Background(), "GET", 200)
}

func TestRecorder_Snapshot(t *testing.T) {
	rec, err := common.NewRecorder()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	defer func() { _ = rec.Shutdown(ctx) }()

	rec.Metrics.Request(ctx, "GET", 200)
	rec.Metrics.Request(ctx, "GET", 200)
	rec.Metrics.Refresh(ctx, false)

	points, err := rec.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 series, got %+v", points)
	}
	if points[0].Name != common.MetricRequests || points[0].Value != 2 || points[0].Attributes != "method=GET,status=200" {
		t.Errorf("unexpected request series: %+v", points[0])
	}
	if points[1].Name != common.MetricRefreshes || points[1].Attributes != "outcome=failure" {
		t.Errorf("unexpected refresh series: %+v", points[1])
	}
}
