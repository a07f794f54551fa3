package otel

import (
	"context"
	"testing"

	"github.com/MrEthical07/authcore/metrics"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	collectors *metrics.Collectors
	dropped    uint64
}

func (f *fakeSource) Metrics() *metrics.Collectors { return f.collectors }
func (f *fakeSource) AuditDropped() uint64         { return f.dropped }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterMirrorsCollectors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authcore-test")

	src := &fakeSource{collectors: metrics.New(), dropped: 4}
	src.collectors.TokenEvent("issued")
	src.collectors.TokenEvent("issued")
	src.collectors.RateLimitDecision("login", metrics.OutcomeDenied)

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)

	tokens, ok := got["authcore_token_events_total"].(metricdata.Sum[float64])
	if !ok || len(tokens.DataPoints) != 1 {
		t.Fatalf("token events = %#v", got["authcore_token_events_total"])
	}
	dp := tokens.DataPoints[0]
	if dp.Value != 2 {
		t.Fatalf("issued = %v, want 2", dp.Value)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("event")); v.AsString() != "issued" {
		t.Fatalf("event attribute = %q", v.AsString())
	}

	dropped, ok := got["authcore_audit_dropped_total"].(metricdata.Sum[int64])
	if !ok || len(dropped.DataPoints) != 1 || dropped.DataPoints[0].Value != 4 {
		t.Fatalf("audit dropped = %#v", got["authcore_audit_dropped_total"])
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("authcore-test")
	if _, err := NewExporter(nil, &fakeSource{collectors: metrics.New()}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(meter, &fakeSource{}); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil collectors, got %v", err)
	}
}
