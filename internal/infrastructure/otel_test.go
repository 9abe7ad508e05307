package infrastructure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"dvfcli/internal/config"
	"dvfcli/internal/diagnostics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitializeOTel_MetricsOnly(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)

	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Registry)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestInitializeOTel_Disabled(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.EnableMetrics = false

	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, providers.Registry)
	assert.NotNil(t, providers.Meter, "no-op meter")

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RecordRejections(context.Background(), "outliers", "iqr_value", 1)

	assert.Error(t, providers.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitializeOTel_UnsupportedExporter(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.MetricExporter = "graphite"
	_, err := InitializeOTel(cfg, discardLogger())
	assert.Error(t, err)
}

func TestOTelConfigFrom(t *testing.T) {
	tests := []struct {
		name        string
		obs         config.ObservabilityConfig
		wantMetrics bool
		wantTracing bool
	}{
		{"nothing enabled", config.ObservabilityConfig{}, false, false},
		{"metrics flag", config.ObservabilityConfig{Metrics: true}, true, false},
		{"textfile implies metrics", config.ObservabilityConfig{MetricsTextfile: "m.prom"}, true, false},
		{"status server implies metrics", config.ObservabilityConfig{StatusAddr: ":8090"}, true, false},
		{"tracing", config.ObservabilityConfig{Tracing: true}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := OTelConfigFrom(tt.obs)
			assert.Equal(t, tt.wantMetrics, cfg.EnableMetrics)
			assert.Equal(t, tt.wantTracing, cfg.EnableTracing)
			if tt.wantTracing {
				assert.Equal(t, "stdout", cfg.TraceExporter)
			}
		})
	}
}

func TestBusinessMetrics_MirrorDiagnostics(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	report := diagnostics.New("run-1")
	report.SetRows(diagnostics.StageOutliers, 100, 97)
	report.Reject(diagnostics.StageOutliers, diagnostics.ReasonIQRValue, 3)
	report.Note(diagnostics.StageOutliers, diagnostics.ReasonSmallCommuneGroup, 4)
	report.Mirror(context.Background(), metrics)

	path := filepath.Join(t.TempDir(), "dvf.prom")
	require.NoError(t, providers.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "dvf_rows_rejected_total")
	assert.Contains(t, text, `reason="iqr_value"`)
	assert.Contains(t, text, `reason="small_commune_group"`)
	assert.Contains(t, text, `stage="outliers"`)
	assert.Contains(t, text, "dvf_stage_rows_in_total")

	srv := httptest.NewServer(providers.PrometheusHTTP)
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dvf_stage_rows_out_total")
}

func TestBusinessMetrics_NilSafe(t *testing.T) {
	var m *BusinessMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordStageRows(ctx, "read", 1, 1)
		m.RecordRejections(ctx, "read", "x", 1)
		m.RecordConditions(ctx, "read", "x", 1)
		m.RecordHTTPRequest(ctx, "/healthz", 200, time.Millisecond)
		RecordOperationMetrics(ctx, nil, "run", "pipeline", time.Second, true, nil)
		RecordOperationStepMetrics(ctx, nil, "collapse", time.Second, true)
		RecordActiveOperationChange(ctx, nil, 1, "pipeline")
		RecordOperationCancellation(ctx, nil, "pipeline", "timeout")
	})
}

func TestOperationMetrics(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	RecordActiveOperationChange(ctx, metrics, 1, "pipeline")
	RecordOperationStepMetrics(ctx, metrics, "collapse", 2*time.Second, true)
	RecordOperationMetrics(ctx, metrics, "run-1", "pipeline", 5*time.Second, false, errors.New("boom"))
	RecordOperationCancellation(ctx, metrics, "pipeline", "timeout")

	path := filepath.Join(t.TempDir(), "ops.prom")
	require.NoError(t, providers.WriteTextfile(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "operation_errors_total")
	assert.Contains(t, string(content), `"step.id"="collapse"`)
}

func TestTraceHelpers(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx, span := tp.Tracer("test").Start(context.Background(), "stage")
	defer span.End()

	assert.Len(t, TraceIDFromContext(ctx), 32)
	assert.NotPanics(t, func() {
		AddSpanEvent(ctx, "stage.progress", map[string]interface{}{
			"rows": 10, "total": int64(20), "ratio": 0.5, "done": false, "stage": "collapse", "other": []int{1},
		})
		SetSpanAttributes(ctx, map[string]interface{}{"stage": "collapse"})
		RecordError(ctx, errors.New("failed"))
		AddSpanEvent(context.Background(), "ignored", nil)
	})
}
