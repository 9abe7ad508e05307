package spatial

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy/location"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/geo"
	"dvfcli/internal/records"
	"dvfcli/internal/reference"
)

const (
	originLon = 2.35
	originLat = 48.85
)

func square(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}})
}

// adjacentZones returns two 100 m squares sharing the vertical edge through the
// projected origin, listed in reverse code order.
func adjacentZones() *reference.ZoneSet {
	x0, y0 := geo.ToLambert93(originLon, originLat)
	return reference.NewZoneSet([]reference.Zone{
		{Code: "751040102", Name: "Est", Geometry: square(x0, y0-50, x0+100, y0+50)},
		{Code: "751040101", Name: "Ouest", Geometry: square(x0-100, y0-50, x0, y0+50)},
	})
}

func point(key, dept string, lon, lat float64) records.NormalizedTransaction {
	return records.NormalizedTransaction{
		TransactionKey: key,
		DepartmentCode: dept,
		Longitude:      lon,
		Latitude:       lat,
	}
}

func TestJoin_Assignments(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		code     string
		irisName string
	}{
		{"inside west zone", originLon - 0.0005, originLat, "751040101", "Ouest"},
		{"inside east zone", originLon + 0.0005, originLat, "751040102", "Est"},
		{"on the shared edge takes the first code", originLon, originLat, "751040101", "Ouest"},
		{"outside every zone", 5.0, 45.0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := []records.NormalizedTransaction{point("k", "75", tt.lon, tt.lat)}
			_, err := New(adjacentZones(), Config{}, nil).Join(context.Background(), txs, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.code, txs[0].IrisCode)
			assert.Equal(t, tt.irisName, txs[0].IrisName)
		})
	}
}

func TestJoin_StatsAndDiagnostics(t *testing.T) {
	txs := []records.NormalizedTransaction{
		point("a", "75", originLon-0.0005, originLat),
		point("b", "75", originLon+0.0005, originLat),
		point("c", "75", originLon, originLat),
		point("d", "13", 5.37, 43.30),
	}
	report := diagnostics.New("test")

	stats, err := New(adjacentZones(), Config{ChunkSize: 2, Workers: 2}, nil).Join(context.Background(), txs, report)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Interior)
	assert.Equal(t, 1, stats.Boundary)
	assert.Equal(t, 1, stats.NoZone)
	assert.Equal(t, 3, stats.Matched())
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, int64(1), report.Condition(diagnostics.StageSpatial, diagnostics.ReasonNoZone))
	assert.Equal(t, int64(1), report.Condition(diagnostics.StageSpatial, diagnostics.ReasonBoundaryTie))
}

func TestJoin_OverlappingZonesAreAmbiguous(t *testing.T) {
	x0, y0 := geo.ToLambert93(originLon, originLat)
	zones := reference.NewZoneSet([]reference.Zone{
		{Code: "A", Geometry: square(x0-100, y0-100, x0+100, y0+100)},
		{Code: "B", Geometry: square(x0-50, y0-50, x0+150, y0+150)},
	})
	txs := []records.NormalizedTransaction{point("k", "75", originLon, originLat)}
	report := diagnostics.New("test")

	stats, err := New(zones, Config{}, nil).Join(context.Background(), txs, report)
	require.NoError(t, err)

	assert.Empty(t, txs[0].IrisCode)
	assert.Equal(t, 1, stats.Ambiguous)
	assert.Equal(t, int64(1), report.Condition(diagnostics.StageSpatial, diagnostics.ReasonAmbiguousZone))
}

func TestJoin_OverwritesStaleCodes(t *testing.T) {
	txs := []records.NormalizedTransaction{point("k", "01", 5.0, 45.0)}
	txs[0].IrisCode = "stale"

	_, err := New(adjacentZones(), Config{}, nil).Join(context.Background(), txs, nil)
	require.NoError(t, err)
	assert.Empty(t, txs[0].IrisCode)
}

func TestJoin_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	txs := []records.NormalizedTransaction{point("k", "75", originLon, originLat)}
	_, err := New(adjacentZones(), Config{}, nil).Join(ctx, txs, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocateInMultiPolygon_Holes(t *testing.T) {
	ring := []geom.Coord{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := []geom.Coord{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}}
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{ring, hole}})

	tests := []struct {
		name string
		x, y float64
		want location.Type
	}{
		{"inside", 2, 2, location.Interior},
		{"in the hole", 5, 5, location.Exterior},
		{"on the hole edge", 4, 5, location.Boundary},
		{"on the outer edge", 0, 5, location.Boundary},
		{"outside", 11, 5, location.Exterior},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LocateInMultiPolygon(mp, tt.x, tt.y))
		})
	}
}

func TestLocateInMultiPolygon_SecondPart(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		{{{5, 5}, {6, 5}, {6, 6}, {5, 6}, {5, 5}}},
	})
	assert.Equal(t, location.Interior, LocateInMultiPolygon(mp, 5.5, 5.5))
	assert.Equal(t, location.Exterior, LocateInMultiPolygon(mp, 3, 3))
}

func TestPlanChunks(t *testing.T) {
	txs := []records.NormalizedTransaction{
		point("a", "75", 2.30, 48.85),
		point("b", "13", 5.37, 43.30),
		point("c", "75", 2.40, 48.86),
		point("d", "13", 5.40, 43.28),
		point("e", "13", 5.38, 43.31),
	}

	chunks := PlanChunks(txs, 2, 5)
	require.Len(t, chunks, 3)

	assert.Equal(t, "13", chunks[0].Department)
	assert.Len(t, chunks[0].Indices, 2)
	assert.Equal(t, "13", chunks[1].Department)
	assert.Len(t, chunks[1].Indices, 1)
	assert.Equal(t, "75", chunks[2].Department)
	assert.Equal(t, []int{0, 2}, chunks[2].Indices)

	seen := map[int]int{}
	for _, c := range chunks {
		for _, i := range c.Indices {
			seen[i]++
			assert.Equal(t, c.Department, txs[i].DepartmentCode)
		}
	}
	assert.Len(t, seen, len(txs))
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestPlanChunks_UnboundedSize(t *testing.T) {
	txs := []records.NormalizedTransaction{point("a", "75", 2.3, 48.8), point("b", "75", 2.4, 48.9)}
	chunks := PlanChunks(txs, 0, 5)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Indices, 2)
}

func TestMatchString(t *testing.T) {
	assert.Equal(t, "interior", MatchInterior.String())
	assert.Equal(t, "boundary", MatchBoundary.String())
	assert.Equal(t, "ambiguous", MatchAmbiguous.String())
	assert.Equal(t, "none", MatchNone.String())
}
