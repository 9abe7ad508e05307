package reference

import (
	"context"
	"fmt"
	"log/slog"

	"dvfcli/internal/geo"
)

// Tables bundles every lookup table of a run.
type Tables struct {
	Regions  *RegionTable
	Communes *CommuneTable
	Zones    *ZoneSet
}

// Sources locates the reference files. Empty optional paths are skipped.
type Sources struct {
	DepartmentsPath string
	RegionsPath     string
	CommunesPath    string
	ZonesPath       string
	ZonesCRS        geo.CRS
}

// Load reads every configured table.
func Load(ctx context.Context, src Sources, logger *slog.Logger) (*Tables, error) {
	if logger == nil {
		logger = slog.Default()
	}

	regions, err := LoadRegionTable(src.DepartmentsPath, src.RegionsPath)
	if err != nil {
		return nil, err
	}

	communes := NewCommuneTable()
	if src.CommunesPath != "" {
		if communes, err = LoadCommuneTable(src.CommunesPath); err != nil {
			return nil, err
		}
	}

	zones := NewZoneSet(nil)
	if src.ZonesPath != "" {
		if zones, err = LoadZones(src.ZonesPath, src.ZonesCRS); err != nil {
			return nil, fmt.Errorf("load zones: %w", err)
		}
	}

	logger.InfoContext(ctx, "loaded reference tables",
		"departments", len(regions.Departments()),
		"regions", len(regions.Regions()),
		"communes", communes.Len(),
		"iris_zones", zones.Len(),
	)
	return &Tables{Regions: regions, Communes: communes, Zones: zones}, nil
}
