package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dvfcli/internal/adjust"
	"dvfcli/internal/aggregate"
	"dvfcli/internal/config"
	"dvfcli/internal/records"
)

// TransactionHeaders is the column order of transactions.csv.
var TransactionHeaders = []string{
	"transaction_key", "mutation_id", "disposition_no", "date", "mutation_nature",
	"property_type", "property_value", "total_built_surface", "num_rooms", "unit_price",
	"time_adjusted_unit_price", "has_dependency", "primary_parcel_id", "parcel_ids",
	"built_surfaces", "row_prices", "address", "postal_code", "commune_code",
	"commune_name", "department_code", "region_code", "iris_code", "iris_name",
	"latitude", "longitude",
}

// AggregateHeaders is the column order of the aggregate partitions.
var AggregateHeaders = []string{
	"geo_level", "geo_code", "geo_name", "parent_code", "property_type", "time_span",
	"transaction_count", "house_count", "apartment_count", "mean_price", "median_price",
	"q25_price", "q75_price", "median_time_adjusted_price",
}

// FactorHeaders is the column order of adjustment_factors.csv.
var FactorHeaders = []string{"department_code", "property_type", "year", "median_unit_price", "factor"}

// Exporter writes the run outputs under the configured output directory.
type Exporter struct {
	paths  *config.Paths
	csv    *CSVWriter
	logger *slog.Logger
}

// New creates an exporter for paths.
func New(paths *config.Paths, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{paths: paths, csv: NewCSVWriter(paths, logger), logger: logger}
}

// Paths returns the output layout.
func (e *Exporter) Paths() *config.Paths { return e.paths }

// WriteTransactions streams the normalized table to transactions.csv.
func (e *Exporter) WriteTransactions(ctx context.Context, txs []records.NormalizedTransaction) (string, error) {
	stream, err := e.csv.CreateStreamWriter(e.paths.TransactionsCSV, TransactionHeaders)
	if err != nil {
		return "", fmt.Errorf("create transactions file: %w", err)
	}
	for i := range txs {
		if i%10_000 == 0 {
			if err := ctx.Err(); err != nil {
				stream.Close()
				return "", err
			}
		}
		if err := stream.WriteRecord(transactionRecord(&txs[i])); err != nil {
			stream.Close()
			return "", fmt.Errorf("write transaction %s: %w", txs[i].TransactionKey, err)
		}
	}
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("close transactions file: %w", err)
	}

	e.logger.Info("wrote transactions",
		slog.String("file_path", stream.Path()),
		slog.Int("rows", stream.Rows()))
	return stream.Path(), nil
}

func transactionRecord(t *records.NormalizedTransaction) []string {
	return []string{
		t.TransactionKey,
		t.MutationID,
		formatInt(t.DispositionNo),
		t.Date.Format("2006-01-02"),
		string(t.MutationNature),
		string(t.PropertyType),
		formatFloat(t.PropertyValue),
		formatFloat(t.TotalBuiltSurface),
		formatInt(t.NumRooms),
		formatFloat(t.UnitPrice),
		formatOptional(t.TimeAdjustedUnitPrice),
		formatBool(t.HasDependency),
		t.PrimaryParcelID,
		strings.Join(t.ParcelIDs, "|"),
		formatFloats(t.BuiltSurfaces),
		formatFloats(t.RowPrices),
		t.Address,
		t.PostalCode,
		t.CommuneCode,
		t.CommuneName,
		t.DepartmentCode,
		t.RegionCode,
		t.IrisCode,
		t.IrisName,
		formatCoordinate(t.Latitude),
		formatCoordinate(t.Longitude),
	}
}

// WriteAggregates writes one file per (level, span) partition, including empty
// partitions, and returns the written paths in level then span order.
func (e *Exporter) WriteAggregates(ctx context.Context, res *aggregate.Result) ([]string, error) {
	partitions := make(map[string][][]string)
	for i := range res.Aggregates {
		a := &res.Aggregates[i]
		key := string(a.Level) + "/" + a.TimeSpan
		partitions[key] = append(partitions[key], aggregateRecord(a))
	}

	var written []string
	for _, level := range aggregate.Levels {
		for _, span := range res.Spans {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			path := e.paths.AggregatePath(string(level), span.Name)
			rows := partitions[string(level)+"/"+span.Name]
			if err := e.csv.WriteSimpleCSV(path, AggregateHeaders, rows); err != nil {
				return written, fmt.Errorf("write %s/%s aggregates: %w", level, span.Name, err)
			}
			written = append(written, path)
		}
	}

	e.logger.Info("wrote aggregates",
		slog.Int("files", len(written)),
		slog.Int("rows", len(res.Aggregates)))
	return written, nil
}

func aggregateRecord(a *aggregate.GeoAggregate) []string {
	return []string{
		string(a.Level),
		a.GeoCode,
		a.GeoName,
		a.ParentCode,
		string(a.PropertyType),
		a.TimeSpan,
		formatInt(a.TransactionCount),
		formatInt(a.HouseCount),
		formatInt(a.ApartmentCount),
		formatOptional(a.MeanPrice),
		formatOptional(a.MedianPrice),
		formatOptional(a.Q25Price),
		formatOptional(a.Q75Price),
		formatOptional(a.MedianTimeAdjustedPrice),
	}
}

// WriteFactors writes the adjustment lookup, undefined factors as empty cells.
func (e *Exporter) WriteFactors(f *adjust.Factors) (string, error) {
	entries := f.Entries()
	rows := make([][]string, len(entries))
	for i, entry := range entries {
		factor := ""
		if entry.Value != nil {
			factor = fmt.Sprintf("%.6f", *entry.Value)
		}
		rows[i] = []string{
			entry.Department,
			string(entry.Type),
			formatInt(entry.Year),
			formatFloat(entry.Median),
			factor,
		}
	}
	if err := e.csv.WriteSimpleCSV(e.paths.FactorsCSV, FactorHeaders, rows); err != nil {
		return "", fmt.Errorf("write adjustment factors: %w", err)
	}
	e.logger.Info("wrote adjustment factors",
		slog.String("file_path", e.paths.FactorsCSV),
		slog.Int("rows", len(rows)))
	return e.paths.FactorsCSV, nil
}
