package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/operations"
	"dvfcli/internal/operations/testutil"
	sharedtest "dvfcli/internal/shared/testutil"
)

type fakeSource struct {
	manager  *operations.Manager
	report   *diagnostics.Report
	manifest *operations.PipelineManifest
}

func (f *fakeSource) Manager() *operations.Manager { return f.manager }
func (f *fakeSource) Report() *diagnostics.Report  { return f.report }
func (f *fakeSource) Manifest() (*operations.PipelineManifest, bool) {
	return f.manifest, f.manifest != nil
}

func newFakeSource(t *testing.T, stages ...operations.Step) *fakeSource {
	t.Helper()
	logger, _ := sharedtest.NewTestLogger(t)
	m := operations.NewManager(nil, operations.NewRegistry(), testutil.CreateTestConfig(), logger)
	t.Cleanup(m.Close)
	for _, s := range stages {
		require.NoError(t, m.RegisterStage(s))
	}
	return &fakeSource{manager: m}
}

func newTestRouter(t *testing.T, src *fakeSource, rateLimit float64, burst int) http.Handler {
	t.Helper()
	logger, _ := sharedtest.NewTestLogger(t)
	return NewRouter(RouterOptions{
		Source:    src,
		Logger:    logger,
		Version:   "test",
		RateLimit: rateLimit,
		RateBurst: burst,
	})
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["error_code"].(string)
	return code
}

func TestHealthCheck(t *testing.T) {
	h := newTestRouter(t, newFakeSource(t), 0, 0)
	rec, body := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, false, body["running"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRunRoutes_NoRun(t *testing.T) {
	h := newTestRouter(t, newFakeSource(t), 0, 0)
	for _, tt := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/run"},
		{http.MethodPost, "/api/run/cancel"},
		{http.MethodGet, "/api/diagnostics"},
		{http.MethodGet, "/api/manifest"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "RUN_NOT_FOUND", errorCode(body))
		})
	}
}

func TestGetRun_AfterCompletion(t *testing.T) {
	src := newFakeSource(t, testutil.CreateSuccessfulStage("read", "Read"))
	resp, err := src.manager.Execute(context.Background(), operations.OperationRequest{ID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, operations.OperationStatusCompleted, resp.Status)

	h := newTestRouter(t, src, 0, 0)
	rec, body := do(t, h, http.MethodGet, "/api/run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", body["id"])
	assert.Equal(t, "completed", body["status"])
	assert.Contains(t, body["steps"], "read")
	snapshot, ok := body["snapshot"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", snapshot["status"])

	rec, body = do(t, h, http.MethodPost, "/api/run/cancel")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN_NOT_RUNNING", errorCode(body))
}

func TestCancelRun_InProgress(t *testing.T) {
	src := newFakeSource(t, testutil.CreateSlowStage("read", "Read", 5*time.Second))
	h := newTestRouter(t, src, 0, 0)

	done := make(chan error, 1)
	go func() {
		_, err := src.manager.Execute(context.Background(), operations.OperationRequest{ID: "run-2"})
		done <- err
	}()
	require.Eventually(t, func() bool {
		return len(src.manager.ListOperations()) == 1
	}, time.Second, 5*time.Millisecond)

	_, body := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, true, body["running"])

	rec, body := do(t, h, http.MethodPost, "/api/run/cancel")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-2", body["id"])

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, operations.ErrorTypeCancellation, operations.GetErrorType(err))
	case <-time.After(3 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestGetDiagnosticsAndManifest(t *testing.T) {
	src := newFakeSource(t)
	src.report = diagnostics.New("run-3")
	src.report.SetReferenceYear(2025)
	src.manifest = operations.NewPipelineManifest("run-3")
	h := newTestRouter(t, src, 0, 0)

	rec, body := do(t, h, http.MethodGet, "/api/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-3", body["run_id"])
	assert.Equal(t, float64(2025), body["reference_year"])

	rec, body = do(t, h, http.MethodGet, "/api/manifest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-3", body["run_id"])
}

func TestRateLimit_OnlyAPI(t *testing.T) {
	h := newTestRouter(t, newFakeSource(t), 0.001, 1)

	rec, _ := do(t, h, http.MethodGet, "/api/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, body := do(t, h, http.MethodGet, "/api/run")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(body))

	rec, _ = do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalRoutes(t *testing.T) {
	h := newTestRouter(t, newFakeSource(t), 0, 0)
	for _, path := range []string{"/metrics", "/ws", "/nope"} {
		rec, body := do(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "NOT_FOUND", errorCode(body), path)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	logger, _ := sharedtest.NewTestLogger(t)
	srv, err := NewServer("127.0.0.1:0", newTestRouter(t, newFakeSource(t), 0, 0), logger)
	require.NoError(t, err)
	srv.Start()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"ok"`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, open := <-srv.Errors()
	assert.False(t, open)
}
