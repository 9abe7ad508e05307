package exporter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"dvfcli/internal/adjust"
	"dvfcli/internal/aggregate"
	"dvfcli/internal/diagnostics"
	"dvfcli/internal/records"
)

func ptr(v float64) *float64 { return &v }

func sampleTransactions() []records.NormalizedTransaction {
	return []records.NormalizedTransaction{
		{
			TransactionKey:        "2024-1_1",
			MutationID:            "2024-1",
			DispositionNo:         1,
			Date:                  time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
			MutationNature:        records.MutationNatureSale,
			PropertyType:          records.PropertyTypeApartment,
			PropertyValue:         450000,
			ParcelIDs:             []string{"75104000AB0001", "75104000AB0002"},
			BuiltSurfaces:         []float64{30, 15},
			RowPrices:             []float64{450000, 450000},
			PrimaryParcelID:       "75104000AB0001",
			TotalBuiltSurface:     45,
			NumRooms:              2,
			HasDependency:         true,
			UnitPrice:             10000,
			Address:               "3 RUE DES ARCHIVES",
			PostalCode:            "75004",
			CommuneCode:           "75104",
			CommuneName:           "Paris 4e Arrondissement",
			DepartmentCode:        "75",
			RegionCode:            "11",
			Latitude:              48.8566,
			Longitude:             2.3522,
			IrisCode:              "751041501",
			IrisName:              "Saint-Merri",
			TimeAdjustedUnitPrice: ptr(11111.11),
		},
		{
			TransactionKey:    "2025-9_2",
			MutationID:        "2025-9",
			DispositionNo:     2,
			Date:              time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			MutationNature:    records.MutationNatureAuction,
			PropertyType:      records.PropertyTypeHouse,
			PropertyValue:     300000,
			ParcelIDs:         []string{"13201000CD0010"},
			BuiltSurfaces:     []float64{100},
			RowPrices:         []float64{300000},
			PrimaryParcelID:   "13201000CD0010",
			TotalBuiltSurface: 100,
			NumRooms:          4,
			UnitPrice:         3000,
			CommuneCode:       "13201",
			DepartmentCode:    "13",
			Latitude:          43.2965,
			Longitude:         5.3698,
		},
	}
}

func TestExporter_WriteTransactions(t *testing.T) {
	exp, paths := setupTestEnv(t)

	path, err := exp.WriteTransactions(context.Background(), sampleTransactions())
	require.NoError(t, err)
	assert.Equal(t, paths.TransactionsCSV, path)

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, TransactionHeaders, rows[0])

	col := func(row []string, name string) string {
		for i, h := range TransactionHeaders {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("unknown column %s", name)
		return ""
	}

	first := rows[1]
	assert.Equal(t, "2024-1_1", col(first, "transaction_key"))
	assert.Equal(t, "2024-03-14", col(first, "date"))
	assert.Equal(t, "Apartment", col(first, "property_type"))
	assert.Equal(t, "10000.00", col(first, "unit_price"))
	assert.Equal(t, "11111.11", col(first, "time_adjusted_unit_price"))
	assert.Equal(t, "true", col(first, "has_dependency"))
	assert.Equal(t, "75104000AB0001|75104000AB0002", col(first, "parcel_ids"))
	assert.Equal(t, "30.00|15.00", col(first, "built_surfaces"))
	assert.Equal(t, "48.856600", col(first, "latitude"))

	second := rows[2]
	assert.Equal(t, "Auction", col(second, "mutation_nature"))
	assert.Equal(t, "", col(second, "time_adjusted_unit_price"))
	assert.Equal(t, "", col(second, "iris_code"))
	assert.Equal(t, "false", col(second, "has_dependency"))
}

func TestExporter_WriteTransactionsCancelled(t *testing.T) {
	exp, _ := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exp.WriteTransactions(ctx, sampleTransactions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExporter_WriteAggregates(t *testing.T) {
	exp, paths := setupTestEnv(t)

	res := &aggregate.Result{
		ReferenceYear: 2025,
		Spans:         aggregate.Spans(2025),
		Aggregates: []aggregate.GeoAggregate{
			{
				Level: aggregate.LevelCommune, GeoCode: "75104", GeoName: "Paris 4e Arrondissement",
				ParentCode: "75", PropertyType: aggregate.TypeAll, TimeSpan: aggregate.SpanAll,
				TransactionCount: 1, ApartmentCount: 1,
				MeanPrice: ptr(10000), MedianPrice: ptr(10000), Q25Price: ptr(10000), Q75Price: ptr(10000),
				MedianTimeAdjustedPrice: ptr(11111.11),
			},
			{
				Level: aggregate.LevelCommune, GeoCode: "13201", ParentCode: "13",
				PropertyType: aggregate.TypeHouse, TimeSpan: aggregate.SpanAll,
			},
		},
	}

	written, err := exp.WriteAggregates(context.Background(), res)
	require.NoError(t, err)
	assert.Len(t, written, len(aggregate.Levels)*4)

	rows := readCSV(t, paths.AggregatePath("commune", "all"))
	require.Len(t, rows, 3)
	assert.Equal(t, AggregateHeaders, rows[0])
	assert.Equal(t, []string{
		"commune", "75104", "Paris 4e Arrondissement", "75", "All", "all",
		"1", "0", "1", "10000.00", "10000.00", "10000.00", "10000.00", "11111.11",
	}, rows[1])
	assert.Equal(t, []string{
		"commune", "13201", "", "13", "House", "all",
		"0", "0", "0", "", "", "", "", "",
	}, rows[2])

	// empty partitions still get a header
	empty := readCSV(t, paths.AggregatePath("iris", "latest"))
	assert.Equal(t, [][]string{AggregateHeaders}, empty)
}

func TestExporter_WriteFactors(t *testing.T) {
	exp, _ := setupTestEnv(t)

	txs := []records.NormalizedTransaction{
		{DepartmentCode: "75", PropertyType: records.PropertyTypeApartment, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), UnitPrice: 9000},
		{DepartmentCode: "75", PropertyType: records.PropertyTypeApartment, Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), UnitPrice: 10000},
	}
	factors, err := adjust.New(2025, 1, nil).Apply(context.Background(), txs, nil)
	require.NoError(t, err)

	path, err := exp.WriteFactors(factors)
	require.NoError(t, err)

	rows := readCSV(t, path)
	assert.Equal(t, [][]string{
		FactorHeaders,
		{"75", "Apartment", "2024", "9000.00", "1.111111"},
		{"75", "Apartment", "2025", "10000.00", "1.000000"},
	}, rows)
}

func TestExporter_WriteSummary(t *testing.T) {
	exp, paths := setupTestEnv(t)

	cities := []aggregate.City{
		{Rank: 1, Code: "75056", Name: "Paris", DepartmentCode: "75", TransactionCount: 4, ApartmentCount: 4, MedianPrice: ptr(11000)},
		{Rank: 2, Code: "13055", Name: "Marseille", DepartmentCode: "13", TransactionCount: 2, HouseCount: 2, HouseMedianPrice: ptr(3200)},
	}
	report := diagnostics.New("run-1")
	report.SetRows(diagnostics.StageCollapse, 10, 7)
	report.Reject(diagnostics.StageCollapse, diagnostics.ReasonNonResidential, 2)
	report.Reject(diagnostics.StageCollapse, diagnostics.ReasonMissingSurface, 1)
	report.Note(diagnostics.StageCollapse, diagnostics.ReasonRegionMissing, 3)

	path, err := exp.WriteSummary(cities, report.Summary())
	require.NoError(t, err)
	assert.Equal(t, paths.SummaryXLSX, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetTopCities, SheetStages, SheetDiagnostics}, f.GetSheetList())

	cityRows, err := f.GetRows(SheetTopCities)
	require.NoError(t, err)
	require.Len(t, cityRows, 3)
	assert.Equal(t, "Rank", cityRows[0][0])
	assert.Equal(t, []string{"1", "75056", "Paris", "75", "4", "0", "4"}, cityRows[1][:7])
	assert.Equal(t, "11000", cityRows[1][8])
	assert.Equal(t, "Median house €/m²", cityRows[0][12])
	assert.Equal(t, "3200", cityRows[2][12])

	stageRows, err := f.GetRows(SheetStages)
	require.NoError(t, err)
	assert.Equal(t, []string{"collapse", "10", "7", "3"}, stageRows[1])

	reasonRows, err := f.GetRows(SheetDiagnostics)
	require.NoError(t, err)
	require.Len(t, reasonRows, 4)
	assert.Equal(t, []string{"collapse", "rejected", "missing_surface", "1"}, reasonRows[1])
	assert.Equal(t, []string{"collapse", "rejected", "non_residential", "2"}, reasonRows[2])
	assert.Equal(t, []string{"collapse", "condition", "region_missing", "3"}, reasonRows[3])
}

func TestExporter_OutputsLandInOutputDir(t *testing.T) {
	exp, paths := setupTestEnv(t)
	_, err := exp.WriteTransactions(context.Background(), nil)
	require.NoError(t, err)

	info, err := os.Stat(paths.TransactionsCSV)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, paths, exp.Paths())
}
