package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"dvfcli/internal/config"
)

const (
	ServiceName = "dvf-processor"
	MeterName   = "dvfcli"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers. Tracer and Meter are no-ops
// when the corresponding signal is disabled.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	// Registry receives the Prometheus exporter; nil when metrics are disabled.
	Registry       *prometheus.Registry
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: config.AppVersion,
		Environment:    env,
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		SampleRatio:    1.0,
	}
}

// OTelConfigFrom maps the observability section onto an OTelConfig.
func OTelConfigFrom(obs config.ObservabilityConfig) *OTelConfig {
	cfg := DefaultOTelConfig()
	cfg.EnableMetrics = obs.Metrics || obs.MetricsTextfile != "" || obs.StatusAddr != ""
	cfg.EnableTracing = obs.Tracing
	if obs.Tracing {
		cfg.TraceExporter = "stdout"
	}
	return cfg
}

// InitializeOTel initializes the tracer and meter providers.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.DebugContext(ctx, "opentelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))
	return providers, nil
}

func createResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.Registry = registry
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetMeterProvider(mp)
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.DebugContext(ctx, "metrics initialized",
		slog.String("exporter", cfg.MetricExporter))
	return nil
}

// WriteTextfile writes the current metrics in the node_exporter textfile format.
func (p *OTelProviders) WriteTextfile(path string) error {
	if p.Registry == nil {
		return errors.New("metrics are disabled")
	}
	if err := prometheus.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// BusinessMetrics holds the pipeline instruments.
type BusinessMetrics struct {
	// HTTP metrics of the status server
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Operations metrics
	OperationExecutionsTotal   metric.Int64Counter
	OperationExecutionDuration metric.Float64Histogram
	OperationStepsTotal        metric.Int64Counter
	OperationStepDuration      metric.Float64Histogram
	OperationActiveOperations  metric.Int64UpDownCounter
	OperationErrors            metric.Int64Counter
	OperationCancellations     metric.Int64Counter

	// Row accounting mirrored from the run diagnostics
	StageRowsIn     metric.Int64Counter
	StageRowsOut    metric.Int64Counter
	RowsRejected    metric.Int64Counter
	StageConditions metric.Int64Counter
	OutputBytes     metric.Int64Counter
}

// CreateBusinessMetrics creates application-specific metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.HTTPRequestsTotal, "http_requests_total", "Total number of status server requests", ""},
		{&m.OperationExecutionsTotal, "operation_executions_total", "Total number of pipeline runs", ""},
		{&m.OperationStepsTotal, "operation_steps_total", "Total number of pipeline stages executed", ""},
		{&m.OperationErrors, "operation_errors_total", "Total number of pipeline errors", ""},
		{&m.OperationCancellations, "operation_cancellations_total", "Total number of cancelled runs", ""},
		{&m.StageRowsIn, "dvf_stage_rows_in_total", "Rows entering a stage", ""},
		{&m.StageRowsOut, "dvf_stage_rows_out_total", "Rows leaving a stage", ""},
		{&m.RowsRejected, "dvf_rows_rejected_total", "Rows rejected by a stage, per reason", ""},
		{&m.StageConditions, "dvf_stage_conditions_total", "Recoverable conditions counted by a stage, per reason", ""},
		{&m.OutputBytes, "dvf_output_bytes", "Bytes written to output files", "By"},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.desc)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		if *c.dst, err = meter.Int64Counter(c.name, opts...); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.HTTPRequestDuration, "http_request_duration_seconds", "Status server request duration in seconds"},
		{&m.OperationExecutionDuration, "operation_execution_duration_seconds", "Pipeline run duration in seconds"},
		{&m.OperationStepDuration, "operation_step_duration_seconds", "Pipeline stage duration in seconds"},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s")); err != nil {
			return nil, err
		}
	}

	if m.OperationActiveOperations, err = meter.Int64UpDownCounter(
		"operation_active_operations",
		metric.WithDescription("Number of running pipelines"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordStageRows records the input and output row counts of a stage.
func (m *BusinessMetrics) RecordStageRows(ctx context.Context, stage string, rowsIn, rowsOut int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageRowsIn.Add(ctx, rowsIn, attrs)
	m.StageRowsOut.Add(ctx, rowsOut, attrs)
}

// RecordRejections records rows dropped by a stage for one reason.
func (m *BusinessMetrics) RecordRejections(ctx context.Context, stage, reason string, n int64) {
	if m == nil {
		return
	}
	m.RowsRejected.Add(ctx, n, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

// RecordConditions records recoverable conditions met by a stage.
func (m *BusinessMetrics) RecordConditions(ctx context.Context, stage, reason string, n int64) {
	if m == nil {
		return
	}
	m.StageConditions.Add(ctx, n, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

// RecordOutputBytes records the size of one written output.
func (m *BusinessMetrics) RecordOutputBytes(ctx context.Context, output string, n int64) {
	if m == nil {
		return
	}
	m.OutputBytes.Add(ctx, n, metric.WithAttributes(attribute.String("output", output)))
}

// RecordHTTPRequest records one status server request.
func (m *BusinessMetrics) RecordHTTPRequest(ctx context.Context, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from context.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// AddSpanEvent adds an event to the current span with structured attributes
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(toAttributes(attributes)...)
}

func toAttributes(attributes map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordOperationMetrics records metrics for one pipeline run.
func RecordOperationMetrics(ctx context.Context, metrics *BusinessMetrics, operationID, operationType string, duration time.Duration, success bool, err error) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation.type", operationType),
	}
	metrics.OperationExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	status := "success"
	if !success {
		status = "failure"
	}
	metrics.OperationExecutionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(append(attrs, attribute.String("status", status))...))

	if err != nil {
		metrics.OperationErrors.Add(ctx, 1,
			metric.WithAttributes(append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
	}

	AddSpanEvent(ctx, "operation.metrics_recorded", map[string]interface{}{
		"operation.id":     operationID,
		"success":          success,
		"duration_seconds": duration.Seconds(),
	})
}

// RecordOperationStepMetrics records metrics for one stage execution.
func RecordOperationStepMetrics(ctx context.Context, metrics *BusinessMetrics, stepID string, duration time.Duration, success bool) {
	if metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	metrics.OperationStepsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step.id", stepID)))
	metrics.OperationStepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.String("status", status),
	))
}

// RecordActiveOperationChange records changes in active operation count
func RecordActiveOperationChange(ctx context.Context, metrics *BusinessMetrics, delta int64, operationType string) {
	if metrics == nil {
		return
	}
	metrics.OperationActiveOperations.Add(ctx, delta,
		metric.WithAttributes(attribute.String("operation.type", operationType)))
}

// RecordOperationCancellation records an operation cancellation
func RecordOperationCancellation(ctx context.Context, metrics *BusinessMetrics, operationType, reason string) {
	if metrics == nil {
		return
	}
	metrics.OperationCancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation.type", operationType),
		attribute.String("reason", reason),
	))
}
