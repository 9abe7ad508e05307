package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func communeRow(code, name string, count int, median float64) GeoAggregate {
	return GeoAggregate{
		Level:                   LevelCommune,
		GeoCode:                 code,
		GeoName:                 name,
		ParentCode:              code[:2],
		PropertyType:            TypeAll,
		TimeSpan:                SpanAll,
		TransactionCount:        count,
		ApartmentCount:          count,
		MeanPrice:               fp(median),
		MedianPrice:             fp(median),
		Q25Price:                fp(median - 100),
		Q75Price:                fp(median + 100),
		MedianTimeAdjustedPrice: fp(median),
	}
}

func cityResult() *Result {
	return &Result{Aggregates: []GeoAggregate{
		communeRow("75101", "Paris 1er Arrondissement", 3, 10000),
		communeRow("75102", "Paris 2e Arrondissement", 1, 14000),
		communeRow("33063", "Bordeaux", 3, 4500),
		communeRow("31555", "Toulouse", 3, 3800),
		{Level: LevelCommune, GeoCode: "01001", PropertyType: TypeAll, TimeSpan: SpanAll},
		communeRow("69381", "Lyon 1er Arrondissement", 2, 5000),
		{Level: LevelCommune, GeoCode: "33063", PropertyType: TypeHouse, TimeSpan: SpanAll, TransactionCount: 99},
		{Level: LevelDepartment, GeoCode: "33", PropertyType: TypeAll, TimeSpan: SpanAll, TransactionCount: 99},
	}}
}

func TestTopCities_WithoutMerge(t *testing.T) {
	cities := TopCities(cityResult(), 10, false)
	require.Len(t, cities, 5)

	codes := make([]string, len(cities))
	for i, c := range cities {
		codes[i] = c.Code
		assert.Equal(t, i+1, c.Rank)
	}
	assert.Equal(t, []string{"31555", "33063", "75101", "69381", "75102"}, codes)
	assert.Equal(t, "Bordeaux", cities[1].Name)
	assert.Equal(t, "33", cities[1].DepartmentCode)
}

func TestTopCities_MergesArrondissements(t *testing.T) {
	cities := TopCities(cityResult(), 10, true)
	require.Len(t, cities, 4)

	paris := cities[0]
	assert.Equal(t, "75056", paris.Code)
	assert.Equal(t, "Paris", paris.Name)
	assert.Equal(t, 4, paris.TransactionCount)
	assert.Equal(t, 4, paris.ApartmentCount)
	assert.Equal(t, []string{"75101", "75102"}, paris.Arrondissements)
	assert.InDelta(t, 11000, *paris.MedianPrice, 1e-9)
	assert.InDelta(t, 10900, *paris.Q25Price, 1e-9)
	assert.Equal(t, "75", paris.DepartmentCode)

	lyon := cities[3]
	assert.Equal(t, "69123", lyon.Code)
	assert.Equal(t, "Lyon", lyon.Name)
}

func typedRow(code string, typ TypeSlice, count int, median float64) GeoAggregate {
	return GeoAggregate{
		Level:            LevelCommune,
		GeoCode:          code,
		PropertyType:     typ,
		TimeSpan:         SpanAll,
		TransactionCount: count,
		MedianPrice:      fp(median),
	}
}

func TestTopCities_PerTypeMedians(t *testing.T) {
	paris1 := communeRow("75101", "Paris 1er Arrondissement", 4, 10000)
	paris1.HouseCount, paris1.ApartmentCount = 1, 3
	paris2 := communeRow("75102", "Paris 2e Arrondissement", 2, 8000)
	paris2.HouseCount, paris2.ApartmentCount = 1, 1
	bordeaux := communeRow("33063", "Bordeaux", 3, 4500)
	bordeaux.HouseCount, bordeaux.ApartmentCount = 3, 0

	res := &Result{Aggregates: []GeoAggregate{
		paris1, paris2, bordeaux,
		typedRow("75101", TypeHouse, 1, 8000),
		typedRow("75101", TypeApartment, 3, 12000),
		typedRow("75102", TypeHouse, 1, 6000),
		typedRow("75102", TypeApartment, 1, 9000),
		typedRow("33063", TypeHouse, 3, 3500),
		{Level: LevelCommune, GeoCode: "33063", PropertyType: TypeApartment, TimeSpan: SpanAll},
		{Level: LevelCommune, GeoCode: "75101", PropertyType: TypeHouse, TimeSpan: SpanLatest, TransactionCount: 1, MedianPrice: fp(1)},
	}}

	t.Run("merged", func(t *testing.T) {
		cities := TopCities(res, 10, true)
		require.Len(t, cities, 2)

		paris := cities[0]
		assert.Equal(t, "75056", paris.Code)
		require.NotNil(t, paris.HouseMedianPrice)
		assert.InDelta(t, 7000, *paris.HouseMedianPrice, 1e-9)
		require.NotNil(t, paris.ApartmentMedianPrice)
		assert.InDelta(t, 11250, *paris.ApartmentMedianPrice, 1e-9)

		bdx := cities[1]
		require.NotNil(t, bdx.HouseMedianPrice)
		assert.InDelta(t, 3500, *bdx.HouseMedianPrice, 1e-9)
		assert.Nil(t, bdx.ApartmentMedianPrice)
	})

	t.Run("unmerged", func(t *testing.T) {
		cities := TopCities(res, 10, false)
		require.Len(t, cities, 3)

		assert.Equal(t, "75101", cities[0].Code)
		assert.InDelta(t, 8000, *cities[0].HouseMedianPrice, 1e-9)
		assert.InDelta(t, 12000, *cities[0].ApartmentMedianPrice, 1e-9)
	})
}

func TestTopCities_Truncates(t *testing.T) {
	cities := TopCities(cityResult(), 2, false)
	require.Len(t, cities, 2)
	assert.Equal(t, "31555", cities[0].Code)
	assert.Equal(t, "33063", cities[1].Code)
}

func TestCityOf(t *testing.T) {
	tests := []struct {
		code string
		want string
		ok   bool
	}{
		{"75101", "75056", true},
		{"75120", "75056", true},
		{"75121", "", false},
		{"13216", "13055", true},
		{"69389", "69123", true},
		{"69123", "", false},
		{"2A004", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, _, ok := CityOf(tt.code)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
