package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"dvfcli/internal/aggregate"
	"dvfcli/internal/diagnostics"
)

// Workbook sheet names.
const (
	SheetTopCities   = "Top cities"
	SheetStages      = "Stages"
	SheetDiagnostics = "Diagnostics"
)

var (
	topCitiesColumns = []interface{}{
		"Rank", "Code", "Name", "Department", "Transactions", "Houses", "Apartments",
		"Mean €/m²", "Median €/m²", "Q25 €/m²", "Q75 €/m²", "Median adjusted €/m²",
		"Median house €/m²", "Median apartment €/m²",
	}
	stagesColumns      = []interface{}{"Stage", "Rows in", "Rows out", "Rejected"}
	diagnosticsColumns = []interface{}{"Stage", "Kind", "Reason", "Count"}
)

// WriteSummary writes the summary workbook: top cities, per-stage row counts and
// per-reason counts.
func (e *Exporter) WriteSummary(cities []aggregate.City, summary diagnostics.Summary) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetTopCities); err != nil {
		return "", err
	}
	for _, name := range []string{SheetStages, SheetDiagnostics} {
		if _, err := f.NewSheet(name); err != nil {
			return "", fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", err
	}

	cityRows := make([][]interface{}, len(cities))
	for i, c := range cities {
		cityRows[i] = []interface{}{
			c.Rank, c.Code, c.Name, c.DepartmentCode, c.TransactionCount, c.HouseCount,
			c.ApartmentCount, cellValue(c.MeanPrice), cellValue(c.MedianPrice),
			cellValue(c.Q25Price), cellValue(c.Q75Price), cellValue(c.MedianTimeAdjustedPrice),
			cellValue(c.HouseMedianPrice), cellValue(c.ApartmentMedianPrice),
		}
	}

	var stageRows, reasonRows [][]interface{}
	for _, s := range summary.Stages {
		var rejected int64
		for _, reason := range sortedKeys(s.Rejected) {
			rejected += s.Rejected[reason]
			reasonRows = append(reasonRows, []interface{}{string(s.Stage), "rejected", string(reason), s.Rejected[reason]})
		}
		for _, reason := range sortedKeys(s.Conditions) {
			reasonRows = append(reasonRows, []interface{}{string(s.Stage), "condition", string(reason), s.Conditions[reason]})
		}
		stageRows = append(stageRows, []interface{}{string(s.Stage), s.RowsIn, s.RowsOut, rejected})
	}

	sheets := []struct {
		name    string
		columns []interface{}
		rows    [][]interface{}
	}{
		{SheetTopCities, topCitiesColumns, cityRows},
		{SheetStages, stagesColumns, stageRows},
		{SheetDiagnostics, diagnosticsColumns, reasonRows},
	}
	for _, s := range sheets {
		if err := writeSheet(f, s.name, header, s.columns, s.rows); err != nil {
			return "", fmt.Errorf("write sheet %s: %w", s.name, err)
		}
	}

	path := e.paths.SummaryXLSX
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save summary workbook: %w", err)
	}
	e.logger.Info("wrote summary workbook",
		slog.String("file_path", path),
		slog.Int("cities", len(cities)),
		slog.Int("stages", len(stageRows)))
	return path, nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, columns []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &columns); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 16)
}

// cellValue leaves a nil statistic as an empty cell.
func cellValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func sortedKeys(m map[diagnostics.Reason]int64) []diagnostics.Reason {
	keys := make([]diagnostics.Reason, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
