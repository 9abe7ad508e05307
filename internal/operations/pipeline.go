package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"dvfcli/internal/config"
	"dvfcli/internal/diagnostics"
	"dvfcli/internal/exporter"
	"dvfcli/internal/infrastructure"
)

// ErrRunInProgress is returned by Run while another run is executing.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// PipelineOptions are the optional collaborators of a Pipeline.
type PipelineOptions struct {
	Hub       WebSocketHub
	Providers *infrastructure.OTelProviders
	Sinks     []Sink
	// ContinueOnError runs independent stages after a failure.
	ContinueOnError bool
}

// Pipeline wires the DVF stages into a Manager and owns the per-run outputs.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	manager   *Manager
	deps      *StageDeps
	providers *infrastructure.OTelProviders
	metrics   *infrastructure.BusinessMetrics
	running   atomic.Bool

	report   atomic.Pointer[diagnostics.Report]
	manifest atomic.Pointer[PipelineManifest]
}

// NewPipeline registers the stages for cfg. The sinks stage is registered only
// when at least one sink is given.
func NewPipeline(cfg *config.Config, logger *slog.Logger, opts PipelineOptions) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *infrastructure.BusinessMetrics
	if opts.Providers != nil && opts.Providers.Meter != nil {
		m, err := infrastructure.CreateBusinessMetrics(opts.Providers.Meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		metrics = m
	}

	opConfig := ConfigFromApp(cfg)
	opConfig.ContinueOnError = opts.ContinueOnError
	manager := NewManager(opts.Hub, NewRegistry(), opConfig, logger)
	tracer := NewOperationTracer(opts.Providers, metrics)
	manager.SetTracer(tracer)

	paths := cfg.OutputPaths()
	deps := &StageDeps{
		Config:   cfg,
		Exporter: exporter.New(paths, logger),
		Sinks:    opts.Sinks,
		Tracer:   tracer,
		Logger:   logger,
		Options: &StageOptions{
			EnableProgress:    opts.Hub != nil,
			StatusBroadcaster: manager.GetBroadcaster(),
		},
	}

	stages := []Step{
		NewReadStage(deps),
		NewCollapseStage(deps),
		NewOutliersStage(deps),
		NewAdjustStage(deps),
		NewSpatialStage(deps),
		NewAggregateStage(deps),
		NewExportStage(deps),
	}
	if len(opts.Sinks) > 0 {
		stages = append(stages, NewSinksStage(deps))
	}
	for _, s := range stages {
		if err := manager.RegisterStage(s); err != nil {
			return nil, err
		}
	}
	if err := manager.GetRegistry().ValidateDependencies(); err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		deps:      deps,
		providers: opts.Providers,
		metrics:   metrics,
	}, nil
}

// Manager returns the underlying stage manager.
func (p *Pipeline) Manager() *Manager { return p.manager }

// Report returns the diagnostics of the current or last run, nil before the first run.
func (p *Pipeline) Report() *diagnostics.Report { return p.report.Load() }

// Manifest returns the manifest of the current or last run.
func (p *Pipeline) Manifest() (*PipelineManifest, bool) {
	m := p.manifest.Load()
	if m == nil {
		return nil, false
	}
	return m.Clone(), true
}

// Run executes every registered stage once. The manifest and diagnostics are
// written to the output directory whatever the outcome.
func (p *Pipeline) Run(ctx context.Context) (*OperationResponse, error) {
	return p.run(ctx, "")
}

// RunStage executes a single stage against a fresh state.
func (p *Pipeline) RunStage(ctx context.Context, stageID string) (*OperationResponse, error) {
	return p.run(ctx, stageID)
}

func (p *Pipeline) run(ctx context.Context, stageID string) (*OperationResponse, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	runID := infrastructure.NewRunID()
	report := diagnostics.New(runID)
	p.deps.Report = report
	p.report.Store(report)

	manifest := NewPipelineManifest(runID)
	manifest.Config = p.manifestConfig()
	p.manifest.Store(manifest)

	params := map[string]interface{}{ParamManifest: manifest}
	if stageID != "" {
		params[ContextKeyStep] = stageID
	}
	resp, runErr := p.manager.Execute(ctx, OperationRequest{
		ID:         runID,
		Mode:       ModeFull,
		Parameters: params,
	})

	ctx = infrastructure.WithTraceID(ctx, runID)
	if err := p.finalize(ctx, report, manifest); err != nil {
		p.logger.ErrorContext(ctx, "failed to write run records", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return resp, runErr
}

// finalize writes the diagnostics, the manifest and the metrics textfile.
func (p *Pipeline) finalize(ctx context.Context, report *diagnostics.Report, manifest *PipelineManifest) error {
	paths := p.deps.Exporter.Paths()
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	if p.metrics != nil {
		report.Mirror(ctx, p.metrics)
	}
	report.Log(ctx, p.logger)

	var errs []error
	if err := writeReport(report, paths.DiagnosticsJSON); err != nil {
		errs = append(errs, fmt.Errorf("write diagnostics: %w", err))
	}
	manifest.AddOutputs(paths.DiagnosticsJSON, paths.ManifestJSON)

	if textfile := p.textfilePath(); textfile != "" {
		if err := p.providers.WriteTextfile(textfile); err != nil {
			errs = append(errs, err)
		} else {
			manifest.AddOutputs(textfile)
		}
	}
	if err := manifest.SaveToFile(paths.ManifestJSON); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) textfilePath() string {
	if p.providers == nil || p.providers.Registry == nil {
		return ""
	}
	obs := p.cfg.Observability
	if obs.MetricsTextfile != "" {
		return obs.MetricsTextfile
	}
	if obs.Metrics {
		return p.deps.Exporter.Paths().MetricsProm
	}
	return ""
}

func (p *Pipeline) manifestConfig() map[string]interface{} {
	pc := p.cfg.Pipeline
	return map[string]interface{}{
		"reference_year":        pc.ReferenceYear,
		"iqr_min_group":         pc.IQRMinGroup,
		"iqr_multiplier":        pc.IQRMultiplier,
		"chunk_size":            pc.ChunkSize,
		"workers":               p.cfg.WorkerCount(),
		"iris_crs":              pc.IrisCRS,
		"top_n":                 pc.TopN,
		"merge_arrondissements": pc.MergeArrondissements,
		"formats":               pc.Formats,
	}
}

// Close stops the status broadcaster.
func (p *Pipeline) Close() {
	p.manager.Close()
}

func writeReport(report *diagnostics.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
