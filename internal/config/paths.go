package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths is the output layout of one run.
type Paths struct {
	OutputDir     string
	AggregatesDir string
	LogsDir       string

	TransactionsCSV string
	FactorsCSV      string
	TopCitiesJSON   string
	DiagnosticsJSON string
	SummaryXLSX     string
	ManifestJSON    string
	MetricsProm     string
}

// NewPaths lays out the outputs under outputDir.
func NewPaths(outputDir, logsDir string) *Paths {
	return &Paths{
		OutputDir:       outputDir,
		AggregatesDir:   filepath.Join(outputDir, "aggregates"),
		LogsDir:         logsDir,
		TransactionsCSV: filepath.Join(outputDir, "transactions.csv"),
		FactorsCSV:      filepath.Join(outputDir, "adjustment_factors.csv"),
		TopCitiesJSON:   filepath.Join(outputDir, "top_cities.json"),
		DiagnosticsJSON: filepath.Join(outputDir, "diagnostics.json"),
		SummaryXLSX:     filepath.Join(outputDir, "summary.xlsx"),
		ManifestJSON:    filepath.Join(outputDir, "manifest.json"),
		MetricsProm:     filepath.Join(outputDir, "metrics.prom"),
	}
}

// EnsureDirectories creates the output and log directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.OutputDir, p.AggregatesDir, p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetReportPath returns the path of a file relative to the output directory.
func (p *Paths) GetReportPath(filename string) string {
	return filepath.Join(p.OutputDir, filename)
}

// AggregatePath returns aggregates/<level>/<span>.csv.
func (p *Paths) AggregatePath(level, span string) string {
	return filepath.Join(p.AggregatesDir, level, span+".csv")
}

// LogPathResolution logs the resolved layout at debug level.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("resolved output paths",
		slog.String("output_dir", p.OutputDir),
		slog.String("aggregates_dir", p.AggregatesDir),
		slog.String("logs_dir", p.LogsDir),
	)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
