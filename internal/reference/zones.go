package reference

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"dvfcli/internal/geo"
)

// Zone is one IRIS boundary in Lambert-93 coordinates.
type Zone struct {
	Code        string
	Name        string
	CommuneCode string
	Geometry    *geom.MultiPolygon
	Bounds      *geom.Bounds
}

// ZoneSet is the immutable set of IRIS zones, ordered by code.
type ZoneSet struct {
	zones  []Zone
	byCode map[string]int
}

// NewZoneSet sorts zones by code and drops later duplicates of a code.
func NewZoneSet(zones []Zone) *ZoneSet {
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	s := &ZoneSet{zones: make([]Zone, 0, len(sorted)), byCode: make(map[string]int, len(sorted))}
	for _, z := range sorted {
		if _, dup := s.byCode[z.Code]; dup {
			continue
		}
		if z.Bounds == nil && z.Geometry != nil {
			z.Bounds = z.Geometry.Bounds()
		}
		if z.CommuneCode == "" && len(z.Code) >= 5 {
			z.CommuneCode = z.Code[:5]
		}
		s.byCode[z.Code] = len(s.zones)
		s.zones = append(s.zones, z)
	}
	return s
}

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Properties map[string]interface{} `json:"properties"`
		Geometry   json.RawMessage        `json:"geometry"`
	} `json:"features"`
}

// LoadZones reads a GeoJSON FeatureCollection of IRIS polygons published in crs and
// returns them projected to Lambert-93.
func LoadZones(path string, crs geo.CRS) (*ZoneSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load iris zones: %w", err)
	}

	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode iris zones: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("decode iris zones: expected FeatureCollection, got %q", fc.Type)
	}

	zones := make([]Zone, 0, len(fc.Features))
	for i, f := range fc.Features {
		code := property(f.Properties, "code_iris", "CODE_IRIS", "DCOMIRIS", "iris")
		if code == "" {
			return nil, fmt.Errorf("feature %d: missing code_iris", i)
		}

		var g geom.T
		if err := geojson.Unmarshal(f.Geometry, &g); err != nil {
			return nil, fmt.Errorf("feature %s: %w", code, err)
		}
		mp, err := asMultiPolygon(g)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", code, err)
		}
		if err := geo.ProjectInPlace(mp, crs); err != nil {
			return nil, fmt.Errorf("feature %s: %w", code, err)
		}

		zones = append(zones, Zone{
			Code:        code,
			Name:        DisplayName(property(f.Properties, "nom_iris", "NOM_IRIS", "LIB_IRIS")),
			CommuneCode: property(f.Properties, "code_insee", "INSEE_COM", "DEPCOM"),
			Geometry:    mp,
		})
	}
	return NewZoneSet(zones), nil
}

func asMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, err
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
}

func property(props map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// Len returns the number of zones.
func (s *ZoneSet) Len() int {
	return len(s.zones)
}

// Zones returns the zones in canonical (code) order. The slice must not be modified.
func (s *ZoneSet) Zones() []Zone {
	return s.zones
}

// Codes returns the zone codes in canonical order.
func (s *ZoneSet) Codes() []string {
	codes := make([]string, len(s.zones))
	for i, z := range s.zones {
		codes[i] = z.Code
	}
	return codes
}

// Zone returns the zone with the given code.
func (s *ZoneSet) Zone(code string) (Zone, bool) {
	i, ok := s.byCode[code]
	if !ok {
		return Zone{}, false
	}
	return s.zones[i], true
}

// Intersecting returns, in canonical order, the zones whose bounding box overlaps b.
func (s *ZoneSet) Intersecting(b *geom.Bounds) []Zone {
	var out []Zone
	for _, z := range s.zones {
		if z.Bounds != nil && z.Bounds.Overlaps(geom.XY, b) {
			out = append(out, z)
		}
	}
	return out
}
