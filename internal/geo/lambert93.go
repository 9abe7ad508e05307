package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

// CRS identifies a supported coordinate reference system.
type CRS string

const (
	CRSWGS84     CRS = "EPSG:4326"
	CRSLambert93 CRS = "EPSG:2154"
)

// ParseCRS accepts "EPSG:4326", "4326", "wgs84", "EPSG:2154", "2154", "lambert93".
func ParseCRS(s string) (CRS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "epsg:4326", "4326", "wgs84":
		return CRSWGS84, nil
	case "", "epsg:2154", "2154", "lambert93", "lambert-93":
		return CRSLambert93, nil
	}
	return "", fmt.Errorf("unsupported CRS %q", s)
}

// Lambert-93 constants published by IGN (GRS80 ellipsoid, secant cone at 44N/49N).
const (
	l93E   = 0.0818191910428158
	l93N   = 0.7256077650532670
	l93C   = 11754255.426096
	l93Xs  = 700000.0
	l93Ys  = 12655612.049876
	l93Lon = 3.0 * math.Pi / 180
)

// ToLambert93 projects a WGS84 longitude/latitude in degrees to Lambert-93 metres.
func ToLambert93(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	sinPhi := math.Sin(phi)
	iso := math.Log(math.Tan(math.Pi/4+phi/2) * math.Pow((1-l93E*sinPhi)/(1+l93E*sinPhi), l93E/2))

	r := l93C * math.Exp(-l93N*iso)
	gamma := l93N * (lon*math.Pi/180 - l93Lon)
	return l93Xs + r*math.Sin(gamma), l93Ys - r*math.Cos(gamma)
}

// ProjectInPlace rewrites the XY coordinates of g from the given CRS to Lambert-93.
func ProjectInPlace(g geom.T, from CRS) error {
	switch from {
	case CRSLambert93:
		return nil
	case CRSWGS84:
	default:
		return fmt.Errorf("unsupported CRS %q", from)
	}

	stride := g.Stride()
	flat := g.FlatCoords()
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = ToLambert93(flat[i], flat[i+1])
	}
	return nil
}
