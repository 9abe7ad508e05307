package aggregate

import (
	"fmt"

	"dvfcli/internal/records"
)

// Level is a geographic granularity.
type Level string

const (
	LevelCountry    Level = "country"
	LevelRegion     Level = "region"
	LevelDepartment Level = "department"
	LevelCommune    Level = "commune"
	LevelIris       Level = "iris"
	LevelParcel     Level = "parcel"
)

// Levels lists every level from the coarsest to the finest.
var Levels = []Level{LevelCountry, LevelRegion, LevelDepartment, LevelCommune, LevelIris, LevelParcel}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown geo level %q", s)
}

// Country code and name of the single country-level group.
const (
	CountryCode = "FR"
	CountryName = "France"
)

// TypeSlice is a property type filter. TypeAll is the union of the others.
type TypeSlice string

const (
	TypeAll       TypeSlice = "All"
	TypeApartment TypeSlice = "Apartment"
	TypeHouse     TypeSlice = "House"
)

// TypeSlices lists the slices in output order.
var TypeSlices = []TypeSlice{TypeAll, TypeApartment, TypeHouse}

func (s TypeSlice) includes(t records.PropertyType) bool {
	switch s {
	case TypeAll:
		return true
	case TypeApartment:
		return t == records.PropertyTypeApartment
	case TypeHouse:
		return t == records.PropertyTypeHouse
	}
	return false
}

// Span is a time window ending at the reference year. FromYear 0 means every year.
type Span struct {
	Name     string `json:"name"`
	FromYear int    `json:"from_year,omitempty"`
}

// Span names.
const (
	SpanAll    = "all"
	SpanLast3Y = "last_3y"
	SpanLast2Y = "last_2y"
	SpanLatest = "latest"
)

// Spans returns the four windows anchored on referenceYear.
func Spans(referenceYear int) []Span {
	return []Span{
		{Name: SpanAll},
		{Name: SpanLast3Y, FromYear: referenceYear - 2},
		{Name: SpanLast2Y, FromYear: referenceYear - 1},
		{Name: SpanLatest, FromYear: referenceYear},
	}
}

// Contains reports whether year falls in the window.
func (s Span) Contains(year int) bool {
	return s.FromYear == 0 || year >= s.FromYear
}

// GeoAggregate is the summary of one (level, code, type, span) group. Statistics
// are nil when TransactionCount is zero.
type GeoAggregate struct {
	Level        Level     `json:"geo_level"`
	GeoCode      string    `json:"geo_code"`
	GeoName      string    `json:"geo_name,omitempty"`
	ParentCode   string    `json:"parent_code,omitempty"`
	PropertyType TypeSlice `json:"property_type"`
	TimeSpan     string    `json:"time_span"`

	TransactionCount int `json:"transaction_count"`
	HouseCount       int `json:"house_count"`
	ApartmentCount   int `json:"apartment_count"`

	MeanPrice               *float64 `json:"mean_price"`
	MedianPrice             *float64 `json:"median_price"`
	Q25Price                *float64 `json:"q25_price"`
	Q75Price                *float64 `json:"q75_price"`
	MedianTimeAdjustedPrice *float64 `json:"median_time_adjusted_price"`
}

// Placeholder reports whether the row only marks the absence of data.
func (a GeoAggregate) Placeholder() bool {
	return a.TransactionCount == 0
}
