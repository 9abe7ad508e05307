// Package validation checks the input files and the output directory of a run
// before any stage reads them.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dvfcli/internal/config"
)

var (
	tableExtensions = []string{".csv", ".xlsx", ".xlsm"}
	zoneExtensions  = []string{".geojson", ".json"}
)

// FileValidator provides the preflight checks shared by the pipeline and the CLI
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{logger: logger}
}

// ValidateInputs checks every configured input path. Required paths must be
// set; optional ones are checked only when set. All problems are reported.
func (v *FileValidator) ValidateInputs(paths config.PathsConfig) error {
	var errs []error
	check := func(role, path string, required bool, exts []string) {
		if path == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s: path is required", role))
			}
			return
		}
		if err := v.ValidateFileType(path, exts...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}

	check("ledger", paths.Ledger, true, []string{".csv"})
	check("departments", paths.Departments, true, tableExtensions)
	check("regions", paths.Regions, false, tableExtensions)
	check("communes", paths.Communes, false, tableExtensions)
	check("iris", paths.Iris, false, zoneExtensions)
	return errors.Join(errs...)
}

// ValidateOutputDirectory creates dir when missing and checks it is writable.
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	v.logger.Debug("output directory validated", slog.String("directory", dir))
	return nil
}

// ValidateFile checks that path is a readable, non-empty regular file.
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file %s is empty", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("file validated",
		slog.String("file_path", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateFileType checks the file and, when exts is not empty, that its
// extension is one of them. Excel lock files (~$name.xlsx) are rejected.
func (v *FileValidator) ValidateFileType(path string, exts ...string) error {
	if strings.HasPrefix(filepath.Base(path), "~$") {
		return fmt.Errorf("file %s is a temporary Excel file", path)
	}
	if len(exts) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, e := range exts {
			if ext == e {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("file %s has extension %q, want one of %s", path, ext, strings.Join(exts, ", "))
		}
	}
	return v.ValidateFile(path)
}
