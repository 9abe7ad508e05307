package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvfcli/internal/aggregate"
	"dvfcli/internal/records"
)

func ptr(v float64) *float64 { return &v }

func newTestSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(context.Background(), filepath.Join(t.TempDir(), "db", "dvf.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func sampleTransactions() []records.NormalizedTransaction {
	return []records.NormalizedTransaction{
		{
			TransactionKey:        "2023-1|1",
			MutationID:            "2023-1",
			DispositionNo:         1,
			Date:                  time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC),
			MutationNature:        records.MutationNatureSale,
			PropertyType:          records.PropertyTypeApartment,
			PropertyValue:         250000,
			ParcelIDs:             []string{"75111000AB0012", "75111000AB0013"},
			PrimaryParcelID:       "75111000AB0012",
			TotalBuiltSurface:     50,
			NumRooms:              2,
			HasDependency:         true,
			UnitPrice:             5000,
			CommuneCode:           "75111",
			DepartmentCode:        "75",
			RegionCode:            "11",
			Latitude:              48.859,
			Longitude:             2.3799,
			IrisCode:              "751114101",
			TimeAdjustedUnitPrice: ptr(5200),
		},
		{
			TransactionKey:  "2024-7|1",
			MutationID:      "2024-7",
			DispositionNo:   1,
			Date:            time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
			MutationNature:  records.MutationNatureSale,
			PropertyType:    records.PropertyTypeHouse,
			PropertyValue:   320000,
			ParcelIDs:       []string{"13208000CD0004"},
			PrimaryParcelID: "13208000CD0004",
			NumRooms:        4,
			UnitPrice:       3200,
			CommuneCode:     "13208",
			DepartmentCode:  "13",
		},
	}
}

func TestSQLiteSink_WriteTransactions(t *testing.T) {
	sink := newTestSQLite(t)
	ctx := context.Background()

	n, err := sink.WriteTransactions(ctx, sampleTransactions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var (
		date     string
		parcels  string
		adjusted sql.NullFloat64
		iris     sql.NullString
		dep      bool
	)
	row := sink.DB().QueryRowContext(ctx, `SELECT date_mutation, parcel_ids, time_adjusted_unit_price, iris_code, has_dependency
		FROM dvf_transactions WHERE transaction_key = ?`, "2023-1|1")
	require.NoError(t, row.Scan(&date, &parcels, &adjusted, &iris, &dep))
	assert.Equal(t, "2023-01-05", date)
	assert.Equal(t, "75111000AB0012;75111000AB0013", parcels)
	assert.True(t, adjusted.Valid)
	assert.Equal(t, 5200.0, adjusted.Float64)
	assert.Equal(t, "751114101", iris.String)
	assert.True(t, dep)

	row = sink.DB().QueryRowContext(ctx, `SELECT time_adjusted_unit_price, iris_code
		FROM dvf_transactions WHERE transaction_key = ?`, "2024-7|1")
	require.NoError(t, row.Scan(&adjusted, &iris))
	assert.False(t, adjusted.Valid)
	assert.False(t, iris.Valid)
}

func TestSQLiteSink_ReplacesPreviousRun(t *testing.T) {
	sink := newTestSQLite(t)
	ctx := context.Background()

	_, err := sink.WriteTransactions(ctx, sampleTransactions())
	require.NoError(t, err)
	n, err := sink.WriteTransactions(ctx, sampleTransactions()[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, sink.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM dvf_transactions`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteSink_WriteAggregates(t *testing.T) {
	sink := newTestSQLite(t)
	ctx := context.Background()

	aggs := []aggregate.GeoAggregate{
		{
			Level: aggregate.LevelCountry, GeoCode: "FR", PropertyType: aggregate.TypeAll, TimeSpan: aggregate.SpanAll,
			TransactionCount: 2, HouseCount: 1, ApartmentCount: 1,
			MeanPrice: ptr(4100), MedianPrice: ptr(4100), Q25Price: ptr(3650), Q75Price: ptr(4550),
		},
		{
			Level: aggregate.LevelCommune, GeoCode: "75111", GeoName: "Paris 11e Arrondissement", ParentCode: "75",
			PropertyType: aggregate.TypeHouse, TimeSpan: aggregate.SpanLatest,
		},
	}
	n, err := sink.WriteAggregates(ctx, aggs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var (
		count  int
		median sql.NullFloat64
	)
	row := sink.DB().QueryRowContext(ctx, `SELECT transaction_count, median_price FROM dvf_aggregates
		WHERE geo_level = ? AND geo_code = ?`, "commune", "75111")
	require.NoError(t, row.Scan(&count, &median))
	assert.Equal(t, 0, count)
	assert.False(t, median.Valid)

	row = sink.DB().QueryRowContext(ctx, `SELECT median_price FROM dvf_aggregates WHERE geo_level = ?`, "country")
	require.NoError(t, row.Scan(&median))
	assert.Equal(t, 4100.0, median.Float64)
}

func TestSQLiteSink_CancelledContext(t *testing.T) {
	sink := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.WriteTransactions(ctx, sampleTransactions())
	assert.Error(t, err)
}

func TestNewSQLiteSink_EmptyPath(t *testing.T) {
	_, err := NewSQLiteSink(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"public", "public", false},
		{"underscore", "_dvf_2024", false},
		{"empty", "", true},
		{"leading digit", "1dvf", true},
		{"quote", `dvf"; DROP`, true},
		{"dot", "dvf.schema", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPostgresSink_Config(t *testing.T) {
	ctx := context.Background()

	_, err := NewPostgresSink(ctx, "", "public", nil)
	assert.Error(t, err)

	_, err = NewPostgresSink(ctx, "postgres://localhost/dvf", "bad schema", nil)
	assert.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Len(t, transactionValues(&sampleTransactions()[0], ""), len(transactionColumns))
	assert.Len(t, aggregateValues(&aggregate.GeoAggregate{}), len(aggregateColumns))
}
