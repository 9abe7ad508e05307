// Package store holds the relational sinks that receive the final transaction
// and aggregate tables of a run. Every write replaces the previous contents of
// the table so a sink always mirrors the latest run.
package store

import (
	"fmt"
	"regexp"
	"strings"

	"dvfcli/internal/aggregate"
	"dvfcli/internal/records"
)

const (
	TransactionsTable = "dvf_transactions"
	AggregatesTable   = "dvf_aggregates"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier rejects schema or table names that would need quoting.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

var transactionColumns = []string{
	"transaction_key", "mutation_id", "disposition_no", "date_mutation",
	"mutation_nature", "property_type", "property_value",
	"primary_parcel_id", "parcel_ids", "total_built_surface", "num_rooms",
	"has_dependency", "unit_price", "address", "postal_code",
	"commune_code", "commune_name", "department_code", "region_code",
	"latitude", "longitude", "iris_code", "iris_name", "time_adjusted_unit_price",
}

var aggregateColumns = []string{
	"geo_level", "geo_code", "geo_name", "parent_code", "property_type", "time_span",
	"transaction_count", "house_count", "apartment_count",
	"mean_price", "median_price", "q25_price", "q75_price", "median_time_adjusted_price",
}

// transactionValues returns one row in transactionColumns order. The parcel
// list is left to the caller since the drivers encode arrays differently.
func transactionValues(t *records.NormalizedTransaction, parcels interface{}) []interface{} {
	return []interface{}{
		t.TransactionKey,
		t.MutationID,
		t.DispositionNo,
		t.Date,
		string(t.MutationNature),
		string(t.PropertyType),
		t.PropertyValue,
		t.PrimaryParcelID,
		parcels,
		t.TotalBuiltSurface,
		t.NumRooms,
		t.HasDependency,
		t.UnitPrice,
		t.Address,
		t.PostalCode,
		t.CommuneCode,
		t.CommuneName,
		t.DepartmentCode,
		nullString(t.RegionCode),
		t.Latitude,
		t.Longitude,
		nullString(t.IrisCode),
		nullString(t.IrisName),
		nullFloat(t.TimeAdjustedUnitPrice),
	}
}

func aggregateValues(a *aggregate.GeoAggregate) []interface{} {
	return []interface{}{
		string(a.Level),
		a.GeoCode,
		nullString(a.GeoName),
		nullString(a.ParentCode),
		string(a.PropertyType),
		a.TimeSpan,
		a.TransactionCount,
		a.HouseCount,
		a.ApartmentCount,
		nullFloat(a.MeanPrice),
		nullFloat(a.MedianPrice),
		nullFloat(a.Q25Price),
		nullFloat(a.Q75Price),
		nullFloat(a.MedianTimeAdjustedPrice),
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ", ")
}
