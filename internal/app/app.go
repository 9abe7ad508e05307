package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dvfcli/internal/config"
	apperrors "dvfcli/internal/errors"
	"dvfcli/internal/infrastructure"
	"dvfcli/internal/operations"
	"dvfcli/internal/store"
	handlers "dvfcli/internal/transport/http"
	"dvfcli/internal/validation"
	ws "dvfcli/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// Options tune a single application run.
type Options struct {
	// Stage restricts the run to one stage id; empty runs all stages.
	Stage           string
	ContinueOnError bool
}

type closableSink interface {
	operations.Sink
	Close() error
}

// Application represents the main application container
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Providers *infrastructure.OTelProviders
	Metrics   *infrastructure.BusinessMetrics
	Pipeline  *operations.Pipeline
	Hub       *ws.Hub
	Server    *handlers.Server

	options Options
	sinks   []closableSink
}

// New wires the observability providers, the sinks, the pipeline and, when
// observability.status_addr is set, the status server. Resources acquired before
// a failure are released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (a *Application, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	a = &Application{Config: cfg, Logger: logger, options: opts}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.Providers, err = infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Observability), logger)
	if err != nil {
		return a, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.Metrics, err = infrastructure.CreateBusinessMetrics(a.Providers.Meter)
	if err != nil {
		return a, fmt.Errorf("failed to create metrics: %w", err)
	}

	if err = validation.NewFileValidator(logger).ValidateOutputDirectory(cfg.Paths.OutputDir); err != nil {
		return a, apperrors.NewConfigError("output directory", err)
	}
	if err = a.openSinks(ctx); err != nil {
		return a, err
	}

	pipelineOpts := operations.PipelineOptions{
		Providers:       a.Providers,
		ContinueOnError: opts.ContinueOnError,
	}
	for _, s := range a.sinks {
		pipelineOpts.Sinks = append(pipelineOpts.Sinks, s)
	}

	statusAddr := cfg.Observability.StatusAddr
	if statusAddr != "" {
		a.Hub = ws.NewHub(logger)
		pipelineOpts.Hub = a.Hub
	}

	a.Pipeline, err = operations.NewPipeline(cfg, logger, pipelineOpts)
	if err != nil {
		return a, fmt.Errorf("failed to build pipeline: %w", err)
	}

	if statusAddr != "" {
		router := handlers.NewRouter(handlers.RouterOptions{
			Source:    a.Pipeline,
			Hub:       a.Hub,
			Providers: a.Providers,
			Metrics:   a.Metrics,
			Logger:    logger,
			Version:   config.AppVersion,
			RateLimit: cfg.Observability.RateLimit,
			RateBurst: cfg.Observability.RateBurst,
		})
		a.Server, err = handlers.NewServer(statusAddr, router, logger)
		if err != nil {
			return a, err
		}
	}
	return a, nil
}

func (a *Application) openSinks(ctx context.Context) error {
	sc := a.Config.Sinks
	if sc.PostgresDSN != "" {
		pg, err := store.NewPostgresSink(ctx, sc.PostgresDSN, sc.PostgresSchema, a.Logger)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, pg)
	}
	if sc.SQLitePath != "" {
		lite, err := store.NewSQLiteSink(ctx, sc.SQLitePath, a.Logger)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, lite)
	}
	return nil
}

// Start starts the websocket hub and the status server, if configured.
func (a *Application) Start() {
	if a.Hub != nil {
		a.Hub.Start()
	}
	if a.Server != nil {
		a.Server.Start()
	}
}

// Run executes the pipeline once.
func (a *Application) Run(ctx context.Context) (*operations.OperationResponse, error) {
	start := time.Now()
	a.Logger.InfoContext(ctx, "pipeline starting",
		slog.String("version", config.AppVersion),
		slog.String("ledger", a.Config.Paths.Ledger),
		slog.String("output_dir", a.Config.Paths.OutputDir),
		slog.Int("sinks", len(a.sinks)),
		slog.String("stage", a.options.Stage))

	var (
		resp *operations.OperationResponse
		err  error
	)
	if a.options.Stage != "" {
		resp, err = a.Pipeline.RunStage(ctx, a.options.Stage)
	} else {
		resp, err = a.Pipeline.Run(ctx)
	}

	attrs := []any{slog.Duration("duration", time.Since(start))}
	if resp != nil {
		attrs = append(attrs, slog.String("operation_id", resp.ID), slog.String("status", string(resp.Status)))
	}
	if err != nil {
		a.Logger.ErrorContext(ctx, "pipeline failed", append(attrs, slog.String("error", err.Error()))...)
		return resp, err
	}
	a.Logger.InfoContext(ctx, "pipeline completed", attrs...)
	return resp, nil
}

// Close stops the status server, the hub and the pipeline, closes the sinks and
// flushes telemetry. It is safe on a partially built Application.
func (a *Application) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("websocket hub: %w", err))
		}
	}
	if a.Pipeline != nil {
		a.Pipeline.Close()
	}
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	if a.Providers != nil {
		if err := a.Providers.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.Logger.ErrorContext(ctx, "shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	a.Logger.DebugContext(ctx, "application closed")
	return nil
}
