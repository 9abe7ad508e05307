package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestToLambert93(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		x, y     float64
		delta    float64
	}{
		{"projection origin", 3, 46.5, 700000, 6600000, 1e-3},
		{"Paris Notre-Dame", 2.3499, 48.8530, 652297, 6861636, 1},
		{"Marseille Vieux-Port", 5.3698, 43.2965, 892390, 6247035, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := ToLambert93(tt.lon, tt.lat)
			assert.InDelta(t, tt.x, x, tt.delta)
			assert.InDelta(t, tt.y, y, tt.delta)
		})
	}
}

func TestParseCRS(t *testing.T) {
	crs, err := ParseCRS("wgs84")
	require.NoError(t, err)
	assert.Equal(t, CRSWGS84, crs)

	crs, err = ParseCRS("")
	require.NoError(t, err)
	assert.Equal(t, CRSLambert93, crs)

	_, err = ParseCRS("EPSG:3857")
	assert.Error(t, err)
}

func TestProjectInPlace(t *testing.T) {
	p := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{3, 46.5})
	require.NoError(t, ProjectInPlace(p, CRSWGS84))
	assert.InDelta(t, 700000, p.X(), 1e-3)
	assert.InDelta(t, 6600000, p.Y(), 1e-3)

	q := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{652297, 6861636})
	require.NoError(t, ProjectInPlace(q, CRSLambert93))
	assert.Equal(t, 652297.0, q.X())

	assert.Error(t, ProjectInPlace(q, CRS("EPSG:3857")))
}
