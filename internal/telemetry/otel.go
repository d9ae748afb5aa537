package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dwsmith1983/muse/pkg/types"
)

// InstrumentationName identifies muse's meters and tracers.
const InstrumentationName = "github.com/dwsmith1983/muse"

// OTelSink records observations as OpenTelemetry instruments. Counter names
// (see IsCounter) become Float64Counters, everything else Float64Gauges.
type OTelSink struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	gauges   map[string]metric.Float64Gauge
}

// NewOTelSink creates a sink on the given meter. A nil meter uses the global
// meter provider.
func NewOTelSink(meter metric.Meter) *OTelSink {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	return &OTelSink{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (s *OTelSink) Emit(ctx context.Context, name string, value float64, tags map[string]string) error {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		attrs = append(attrs, attribute.String(k, tags[k]))
	}
	opt := metric.WithAttributes(attrs...)

	if IsCounter(name) {
		c, err := s.counter(name)
		if err != nil {
			return err
		}
		c.Add(ctx, value, opt)
		return nil
	}

	g, err := s.gauge(name)
	if err != nil {
		return err
	}
	g.Record(ctx, value, opt)
	return nil
}

func (s *OTelSink) counter(name string) (metric.Float64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	c, err := s.meter.Float64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("creating counter %q: %w", name, err)
	}
	s.counters[name] = c
	return c, nil
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, nil
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("creating gauge %q: %w", name, err)
	}
	s.gauges[name] = g
	return g, nil
}

// Providers holds the SDK providers installed by Setup.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Setup installs OTLP/gRPC metric and trace exporters as the global
// providers.
func Setup(ctx context.Context, cfg types.TelemetryConfig) (*Providers, error) {
	service := cfg.ServiceName
	if service == "" {
		service = "muse"
	}
	res := resource.NewSchemaless(attribute.String("service.name", service))

	metricOpts := []otlpmetricgrpc.Option{}
	traceOpts := []otlptracegrpc.Option{}
	if cfg.Endpoint != "" {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		traceOpts = append(traceOpts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		_ = metricExp.Shutdown(ctx)
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return &Providers{Meter: mp, Tracer: tp}, nil
}
