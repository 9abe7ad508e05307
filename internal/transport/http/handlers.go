package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"dvfcli/internal/diagnostics"
	apperrors "dvfcli/internal/errors"
	"dvfcli/internal/operations"
)

// RunSource exposes the runs of a pipeline. *operations.Pipeline satisfies it.
type RunSource interface {
	Manager() *operations.Manager
	Report() *diagnostics.Report
	Manifest() (*operations.PipelineManifest, bool)
}

// HealthHandler serves /healthz.
type HealthHandler struct {
	source  RunSource
	version string
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(source RunSource, version string) *HealthHandler {
	return &HealthHandler{source: source, version: version, started: time.Now()}
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Running       bool    `json:"running"`
}

// HealthCheck handles GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	running := false
	if h.source != nil {
		running = len(h.source.Manager().ListOperations()) > 0
	}
	render.JSON(w, r, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: time.Since(h.started).Seconds(),
		Running:       running,
	})
}

// RunHandler serves the run, diagnostics and manifest routes.
type RunHandler struct {
	source RunSource
	logger *slog.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(source RunSource, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{source: source, logger: logger.With(slog.String("handler", "run"))}
}

// RunView is the /api/run payload.
type RunView struct {
	ID        string                           `json:"id"`
	Status    operations.OperationStatusValue  `json:"status"`
	StartTime time.Time                        `json:"start_time"`
	EndTime   *time.Time                       `json:"end_time,omitempty"`
	Steps     map[string]*operations.StepState `json:"steps"`
	Error     string                           `json:"error,omitempty"`
	Snapshot  *operations.OperationSnapshot    `json:"snapshot,omitempty"`
}

// GetRun handles GET /api/run
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	manager := h.source.Manager()
	state, ok := manager.LastOperation()
	if !ok {
		renderError(w, r, apperrors.ErrRunNotFound)
		return
	}
	view := RunView{
		ID:        state.ID,
		Status:    state.GetStatus(),
		StartTime: state.StartTime,
		EndTime:   state.EndTime,
		Steps:     state.Steps,
		Error:     state.ErrorMessage(),
	}
	if snapshot, found := manager.GetBroadcaster().GetSnapshot(state.ID); found {
		view.Snapshot = snapshot
	}
	render.JSON(w, r, view)
}

// CancelRun handles POST /api/run/cancel
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	manager := h.source.Manager()
	state, ok := manager.LastOperation()
	if !ok {
		renderError(w, r, apperrors.ErrRunNotFound)
		return
	}
	if err := manager.CancelOperation(state.ID); err != nil {
		if errors.Is(err, operations.ErrOperationNotRunning) {
			renderError(w, r, apperrors.New(http.StatusConflict, "RUN_NOT_RUNNING", "The last run has already finished"))
			return
		}
		h.logger.ErrorContext(r.Context(), "cancel failed",
			slog.String("operation_id", state.ID),
			slog.String("error", err.Error()))
		renderError(w, r, apperrors.ErrInternalServer)
		return
	}

	h.logger.InfoContext(r.Context(), "run cancelled", slog.String("operation_id", state.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"id": state.ID, "status": "cancelling"})
}

// GetDiagnostics handles GET /api/diagnostics
func (h *RunHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := h.source.Report()
	if report == nil {
		renderError(w, r, apperrors.ErrRunNotFound)
		return
	}
	render.JSON(w, r, report.Summary())
}

// GetManifest handles GET /api/manifest
func (h *RunHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, ok := h.source.Manifest()
	if !ok {
		renderError(w, r, apperrors.ErrRunNotFound)
		return
	}
	render.JSON(w, r, manifest)
}

func renderError(w http.ResponseWriter, r *http.Request, err *apperrors.APIError) {
	if rerr := render.Render(w, r, apperrors.NewErrorResponse(err)); rerr != nil {
		apperrors.WriteError(w, err)
	}
}
