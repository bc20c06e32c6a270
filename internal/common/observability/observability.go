package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/logger"
)

// TracerName is the instrumentation scope used by every component.
const TracerName = "loan-orchestrator"

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	jobCounter     otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
	opCounter      otelmetric.Int64Counter
}

// New installs the global meter and tracer providers. Failures degrade to
// no-op instruments and are logged, never returned.
func New(cfg config.ObservabilityConfig, log logger.Logger) *Observability {
	o := &Observability{tracer: otel.Tracer(TracerName)}
	log = log.WithFields(map[string]interface{}{"component": "observability"})

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	if cfg.MetricsEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err})
		} else {
			o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
			otel.SetMeterProvider(o.meterProvider)
		}
	}

	if cfg.TracingEnabled {
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if cfg.JaegerEndpoint != "" {
			exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
			if err != nil {
				log.Warn("Failed to create Jaeger exporter", map[string]interface{}{"error": err})
			} else {
				opts = append(opts, sdktrace.WithBatcher(exporter))
			}
		}
		o.tracerProvider = sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(o.tracerProvider)
		o.tracer = o.tracerProvider.Tracer(TracerName)
	}

	o.meter = otel.GetMeterProvider().Meter(TracerName)

	o.jobCounter, _ = o.meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	o.jobDuration, _ = o.meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)
	o.opCounter, _ = o.meter.Int64Counter(
		"loan.operations",
		otelmetric.WithDescription("Orchestrator operations by outcome"),
	)
	return o
}

// Tracer returns the configured tracer, a no-op when tracing is off.
func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

func (o *Observability) RecordJobProcessed(ctx context.Context, taskType, status string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, taskType string, duration time.Duration) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("task_type", taskType),
		))
	}
}

func (o *Observability) RecordOperation(ctx context.Context, operation, outcome string) {
	if o.opCounter != nil {
		o.opCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
