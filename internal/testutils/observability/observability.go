package observability

import (
	"context"
	"os"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	testlogr "github.com/alphabill-org/wsv/internal/testutils/logger"
	"github.com/alphabill-org/wsv/observability"
)

/*
NOP creates observability implementation where everything is no-op.
Use it for tests for which it absolutely doesn't make sense to create any logs or metrics.
*/
func NOP() *observability.Observability {
	return observability.WithMeterProvider(noop.NewMeterProvider(), testlogr.NOP())
}

/*
Default creates observability with test logger. Metrics are exported when
WSV_TEST_METRICS environment variable names the exporter.
*/
func Default(t testing.TB) *observability.Observability {
	obs, err := observability.New(os.Getenv("WSV_TEST_METRICS"), testlogr.New(t))
	if err != nil {
		t.Fatalf("creating observability: %v", err)
	}
	t.Cleanup(func() {
		if err := obs.Shutdown(); err != nil {
			t.Logf("shutting down observability: %v", err)
		}
	})
	return obs
}

// Metrics is observability which collects metrics in memory so that tests can assert on them.
type Metrics struct {
	*observability.Observability
	t      testing.TB
	reader *sdkmetric.ManualReader
}

func WithMetrics(t testing.TB) *Metrics {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return &Metrics{
		Observability: observability.WithMeterProvider(mp, testlogr.New(t)),
		t:             t,
		reader:        reader,
	}
}

/*
Sum returns the value of the Int64 counter or gauge "name" of the meter "scope"
summed over all attribute sets. Zero is returned when the instrument hasn't
recorded anything.
*/
func (m *Metrics) Sum(scope, name string) int64 {
	m.t.Helper()
	rm := metricdata.ResourceMetrics{}
	if err := m.reader.Collect(context.Background(), &rm); err != nil {
		m.t.Fatalf("collecting metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != scope {
			continue
		}
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
