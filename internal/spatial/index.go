package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"dvfcli/internal/reference"
)

type cell struct{ x, y int64 }

// gridIndex buckets candidate zones by the grid cells their bounding box covers.
// Bucket contents keep the candidate order.
type gridIndex struct {
	size  float64
	zones []reference.Zone
	cells map[cell][]int
}

func newGridIndex(zones []reference.Zone, clip *geom.Bounds, size float64) *gridIndex {
	g := &gridIndex{size: size, zones: zones, cells: make(map[cell][]int)}
	for n, z := range zones {
		minX := math.Max(z.Bounds.Min(0), clip.Min(0))
		minY := math.Max(z.Bounds.Min(1), clip.Min(1))
		maxX := math.Min(z.Bounds.Max(0), clip.Max(0))
		maxY := math.Min(z.Bounds.Max(1), clip.Max(1))
		lo, hi := g.cellOf(minX, minY), g.cellOf(maxX, maxY)
		for cx := lo.x; cx <= hi.x; cx++ {
			for cy := lo.y; cy <= hi.y; cy++ {
				c := cell{cx, cy}
				g.cells[c] = append(g.cells[c], n)
			}
		}
	}
	return g
}

func (g *gridIndex) cellOf(x, y float64) cell {
	return cell{int64(math.Floor(x / g.size)), int64(math.Floor(y / g.size))}
}

// Match classifies how a point relates to the zones.
type Match int

const (
	MatchNone Match = iota
	MatchInterior
	MatchBoundary
	MatchAmbiguous
)

func (m Match) String() string {
	switch m {
	case MatchInterior:
		return "interior"
	case MatchBoundary:
		return "boundary"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// locate returns the zone containing (x, y) and how it was chosen.
func (g *gridIndex) locate(x, y float64) (reference.Zone, Match, int) {
	var interior, boundary []int
	for _, n := range g.cells[g.cellOf(x, y)] {
		z := g.zones[n]
		if x < z.Bounds.Min(0) || x > z.Bounds.Max(0) || y < z.Bounds.Min(1) || y > z.Bounds.Max(1) {
			continue
		}
		switch LocateInMultiPolygon(z.Geometry, x, y) {
		case location.Interior:
			interior = append(interior, n)
		case location.Boundary:
			boundary = append(boundary, n)
		}
	}

	switch {
	case len(interior) == 1:
		return g.zones[interior[0]], MatchInterior, 1
	case len(interior) > 1:
		return reference.Zone{}, MatchAmbiguous, len(interior)
	case len(boundary) > 0:
		return g.zones[boundary[0]], MatchBoundary, len(boundary)
	}
	return reference.Zone{}, MatchNone, 0
}

// LocateInMultiPolygon returns the location of (x, y) relative to mp. Holes are
// outside their polygon; a hole edge is a boundary.
func LocateInMultiPolygon(mp *geom.MultiPolygon, x, y float64) location.Type {
	p := geom.Coord{x, y}
	result := location.Exterior
	for i := 0; i < mp.NumPolygons(); i++ {
		switch locateInPolygon(mp.Polygon(i), p) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			result = location.Boundary
		}
	}
	return result
}

func locateInPolygon(poly *geom.Polygon, p geom.Coord) location.Type {
	if poly.NumLinearRings() == 0 {
		return location.Exterior
	}
	layout := poly.Layout()
	loc := xy.LocatePointInRing(layout, p, poly.LinearRing(0).FlatCoords())
	if loc != location.Interior {
		return loc
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		switch xy.LocatePointInRing(layout, p, poly.LinearRing(i).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}
