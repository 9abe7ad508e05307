package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dvfcli/internal/app"
	"dvfcli/internal/config"
	"dvfcli/internal/infrastructure"
	"dvfcli/internal/operations"
)

const (
	exitOK          = 0
	exitRunFailed   = 1
	exitUsage       = 2
	exitInterrupted = 130
)

type cliFlags struct {
	configPath      string
	stage           string
	statusAddr      string
	continueOnError bool
	serve           bool
	quiet           bool
	version         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	fs := flag.NewFlagSet("processor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file (defaults to config.yaml when present)")
	fs.StringVar(&f.stage, "stage", "", "run a single stage: "+stageList())
	fs.StringVar(&f.statusAddr, "status-addr", "", "serve run status on this address, overrides observability.status_addr")
	fs.BoolVar(&f.continueOnError, "continue-on-error", false, "run independent stages after a stage failure")
	fs.BoolVar(&f.serve, "serve", false, "keep the status server up after the run until interrupted")
	fs.BoolVar(&f.quiet, "quiet", false, "do not print the diagnostics summary")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func stageList() string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s",
		operations.StageIDRead, operations.StageIDCollapse, operations.StageIDOutliers,
		operations.StageIDAdjust, operations.StageIDSpatial, operations.StageIDAggregate,
		operations.StageIDExport, operations.StageIDSinks)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if f.version {
		fmt.Fprintf(stdout, "processor %s\n", config.AppVersion)
		return exitOK
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitUsage
	}
	defer infrastructure.CloseLogFile()

	a, err := app.New(ctx, cfg, logger, app.Options{Stage: f.stage, ContinueOnError: f.continueOnError})
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", slog.String("error", err.Error()))
		return exitUsage
	}
	defer a.Close(context.Background())

	a.Start()
	_, runErr := a.Run(ctx)

	if !f.quiet {
		if err := printSummary(stdout, a); err != nil {
			logger.WarnContext(ctx, "failed to print summary", slog.String("error", err.Error()))
		}
	}

	if f.serve && a.Server != nil && ctx.Err() == nil {
		logger.InfoContext(ctx, "serving run status until interrupted", slog.String("address", a.Server.Addr()))
		select {
		case <-ctx.Done():
		case err := <-a.Server.Errors():
			if err != nil {
				logger.ErrorContext(ctx, "status server failed", slog.String("error", err.Error()))
			}
		}
	}

	switch {
	case runErr == nil:
		return exitOK
	case operations.GetErrorType(runErr) == operations.ErrorTypeCancellation || ctx.Err() != nil:
		return exitInterrupted
	default:
		return exitRunFailed
	}
}

func loadConfig(f *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.statusAddr != "" {
		cfg.Observability.StatusAddr = f.statusAddr
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func printSummary(w io.Writer, a *app.Application) error {
	report := a.Pipeline.Report()
	if report == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Summary())
}
