package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Observability gives components their logger and meters.
type Observability struct {
	log *slog.Logger
	mp  metric.MeterProvider
	pr  *prometheus.Registry

	shutdownFuncs []func(context.Context) error
}

/*
New creates Observability with metrics exported by "exporter" (one of
"stdout", "prometheus"). When exporter is empty metrics are not collected.
Prometheus metrics are collected into a registry, see PushMetrics.
*/
func New(exporter string, log *slog.Logger) (*Observability, error) {
	o := &Observability{log: log, mp: noop.NewMeterProvider()}
	if exporter == "" {
		return o, nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("wsv"),
		semconv.ServiceVersion("0.1.0"),
	)
	mp, err := o.initMeterProvider(exporter, res)
	if err != nil {
		return nil, fmt.Errorf("initialize meter provider: %w", err)
	}
	o.mp = mp
	o.shutdownFuncs = append(o.shutdownFuncs, mp.Shutdown)
	return o, nil
}

// WithMeterProvider creates Observability using given meter provider, the caller
// is responsible for shutting the provider down.
func WithMeterProvider(mp metric.MeterProvider, log *slog.Logger) *Observability {
	return &Observability{log: log, mp: mp}
}

func (o *Observability) Logger() *slog.Logger { return o.log }

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

/*
PushMetrics pushes the metrics to the Prometheus Pushgateway at "url" under
job "job", it is a no-op when Prometheus exporter is not used. Commands exit
before a scraper would see their metrics so they push them instead.
*/
func (o *Observability) PushMetrics(ctx context.Context, url, job string) error {
	if o.pr == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(o.pr).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}

func (o *Observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, fn := range o.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %w", errors.Join(errs...))
	}
	return nil
}

func (o *Observability) initMeterProvider(exporter string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader
	switch exporter {
	case ExporterStdout:
		me, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(me)
	case ExporterPrometheus:
		var err error
		o.pr = prometheus.NewRegistry()
		if reader, err = promexp.New(promexp.WithRegisterer(o.pr), promexp.WithNamespace("wsv")); err != nil {
			return nil, fmt.Errorf("creating Prometheus exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported exporter %q", exporter)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}
