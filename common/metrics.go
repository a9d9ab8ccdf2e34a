package common

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Metric names exported by the API client.
const (
	MetricRequests      = "crisiscircle_client_requests_total"
	MetricRefreshes     = "crisiscircle_client_token_refreshes_total"
	MetricForcedLogouts = "crisiscircle_client_forced_logouts_total"
)

// Metrics counts client traffic. The zero value is not usable; use NewMetrics.
type Metrics struct {
	requests      metric.Int64Counter
	refreshes     metric.Int64Counter
	forcedLogouts metric.Int64Counter
}

// NewMetrics registers the client counters on meter. A nil meter records nothing.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("crisiscircle")
	}

	requests, err := meter.Int64Counter(MetricRequests,
		metric.WithDescription("HTTP requests sent to the API, by method and status."))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", MetricRequests, err)
	}
	refreshes, err := meter.Int64Counter(MetricRefreshes,
		metric.WithDescription("Access token refresh attempts, by outcome."))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", MetricRefreshes, err)
	}
	logouts, err := meter.Int64Counter(MetricForcedLogouts,
		metric.WithDescription("Sessions ended by the client after an unrecoverable auth failure."))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", MetricForcedLogouts, err)
	}

	return &Metrics{
		requests:      requests,
		refreshes:     refreshes,
		forcedLogouts: logouts,
	}, nil
}

// NopMetrics returns Metrics that discard everything.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

// Request records one HTTP exchange. status 0 means a transport failure.
func (m *Metrics) Request(ctx context.Context, method string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", statusLabel(status)),
	))
}

// Refresh records one refresh attempt.
func (m *Metrics) Refresh(ctx context.Context, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ForcedLogout records a logout triggered by the client.
func (m *Metrics) ForcedLogout(ctx context.Context, reason string) {
	m.forcedLogouts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

// MetricPoint is one counter series as collected by a Recorder.
type MetricPoint struct {
	Name       string `json:"name"`
	Attributes string `json:"attributes"`
	Value      int64  `json:"value"`
}

// Recorder keeps the client counters in process memory so a short-lived
// command can report them before it exits.
type Recorder struct {
	Metrics *Metrics

	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func NewRecorder() (*Recorder, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("crisiscircle"))
	if err != nil {
		return nil, err
	}
	return &Recorder{Metrics: m, reader: reader, provider: provider}, nil
}

// Snapshot returns every recorded series, sorted by name then attributes.
func (r *Recorder) Snapshot(ctx context.Context) ([]MetricPoint, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var points []MetricPoint
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				points = append(points, MetricPoint{
					Name:       m.Name,
					Attributes: dp.Attributes.Encoded(attribute.DefaultEncoder()),
					Value:      dp.Value,
				})
			}
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return points[i].Attributes < points[j].Attributes
	})
	return points, nil
}

func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
