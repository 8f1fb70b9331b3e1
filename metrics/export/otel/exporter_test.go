package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/dashauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot dashauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() dashauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := dashauth.MetricsSnapshot{
		Counters:   make(map[dashauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[dashauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: dashauth.MetricsSnapshot{
			Counters: map[dashauth.MetricID]uint64{
				dashauth.MetricLoginSuccess: 3,
			},
			Histograms: map[dashauth.MetricID][]uint64{
				dashauth.MetricTransportLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("dashauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findInt64(rm, "dashauth_login_success_total"); !ok || v != 3 {
		t.Fatalf("expected login success 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findInt64(rm, "dashauth_transport_latency_seconds_bucket_le_0_1"); !ok || v != 3 {
		t.Fatalf("expected cumulative bucket 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findInt64(rm, "dashauth_transport_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("expected count 8, got %d (found=%v)", v, ok)
	}
	if v, ok := findInt64(rm, "dashauth_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("expected dropped 1, got %d (found=%v)", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporterFromSource(provider.Meter("dashauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("dashauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil manager, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: dashauth.MetricsSnapshot{
			Counters: map[dashauth.MetricID]uint64{
				dashauth.MetricLoginSuccess: 1,
			},
			Histograms: map[dashauth.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("dashauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[dashauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

type sessionFake struct {
	*fakeSource
	authed bool
	bound  time.Duration
}

func (s sessionFake) IsAuthenticated() bool { return s.authed }

func (s sessionFake) StalenessBound(context.Context) time.Duration { return s.bound }

func findFloat64(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[float64]); ok && m.Name == name && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterReportsSessionGauges(t *testing.T) {
	reader, provider := newMeter()
	src := sessionFake{fakeSource: &fakeSource{}, authed: true, bound: 90 * time.Second}

	exp, err := NewExporterFromSource(provider.Meter("dashauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findInt64(rm, "dashauth_session_authenticated"); !ok || v != 1 {
		t.Fatalf("expected authenticated gauge 1, got %d (found=%v)", v, ok)
	}
	if v, ok := findFloat64(rm, "dashauth_session_staleness_bound_seconds"); !ok || v != 90 {
		t.Fatalf("expected staleness 90s, got %v (found=%v)", v, ok)
	}
}

func TestExporterWithoutSessionSkipsGauges(t *testing.T) {
	reader, provider := newMeter()
	exp, err := NewExporterFromSource(provider.Meter("dashauth-test"), &fakeSource{})
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := findInt64(rm, "dashauth_session_authenticated"); ok {
		t.Fatal("a plain metrics source has no session gauge")
	}
}
