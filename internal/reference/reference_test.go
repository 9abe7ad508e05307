package reference

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/xuri/excelize/v2"

	"dvfcli/internal/geo"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const departmentsCSV = "\ufeffDEP,REG,CHEFLIEU,TNCC,NCC,NCCENR,LIBELLE\n" +
	"75,11,75056,0,PARIS,Paris,Paris\n" +
	"13,93,13055,3,BOUCHES DU RHONE,Bouches-du-Rhône,Bouches-du-Rhône\n" +
	"2A,94,2A004,3,CORSE DU SUD,Corse-du-Sud,Corse-du-Sud\n"

const regionsCSV = "REG;CHEFLIEU;LIBELLE\n" +
	"11;75056;Île-de-France\n" +
	"93;13055;PROVENCE-ALPES-COTE D'AZUR\n" +
	"94;2A004;Corse\n"

func TestLoadRegionTable(t *testing.T) {
	deps := writeFile(t, "departements.csv", departmentsCSV)
	regs := writeFile(t, "regions.csv", regionsCSV)

	tbl, err := LoadRegionTable(deps, regs)
	require.NoError(t, err)

	reg, ok := tbl.RegionOf("13")
	assert.True(t, ok)
	assert.Equal(t, "93", reg)

	_, ok = tbl.RegionOf("99")
	assert.False(t, ok)

	assert.Equal(t, []string{"13", "2A", "75"}, tbl.Departments())
	assert.Equal(t, []string{"11", "93", "94"}, tbl.Regions())
	assert.Equal(t, "Île-de-France", tbl.RegionName("11"))
	assert.Equal(t, "Bouches-du-Rhône", tbl.DepartmentName("13"))
	assert.NotEmpty(t, tbl.RegionName("93"))
}

func TestLoadRegionTable_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "departements.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"DEP", "REG", "LIBELLE"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"69", "84", "Rhône"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tbl, err := LoadRegionTable(path, "")
	require.NoError(t, err)

	reg, ok := tbl.RegionOf("69")
	assert.True(t, ok)
	assert.Equal(t, "84", reg)
	assert.Equal(t, "Rhône", tbl.DepartmentName("69"))
}

func TestLoadRegionTable_MissingColumns(t *testing.T) {
	path := writeFile(t, "departements.csv", "CODE,NAME\n75,Paris\n")
	_, err := LoadRegionTable(path, "")
	assert.Error(t, err)
}

func TestLoadCommuneTable(t *testing.T) {
	path := writeFile(t, "communes.csv", "TYPECOM,COM,REG,DEP,LIBELLE\n"+
		"COM,75056,11,75,Paris\n"+
		"ARM,75101,11,75,Paris 1er Arrondissement\n"+
		"COMD,01015,84,01,Arbignieu\n"+
		"COM,97411,04,974,SAINT-DENIS\n")

	tbl, err := LoadCommuneTable(path)
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "Paris 1er Arrondissement", tbl.Name("75101"))
	assert.Equal(t, "Saint-Denis", tbl.Name("97411"))
	assert.Empty(t, tbl.Name("01015"))

	dep, ok := tbl.Department("97411")
	assert.True(t, ok)
	assert.Equal(t, "974", dep)
}

func TestDepartmentOfCommune(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"75056", "75"},
		{"2A004", "2A"},
		{"97411", "974"},
		{"98735", "987"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, DepartmentOfCommune(tt.code))
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lyon", "Lyon"},
		{"SAINT-ETIENNE", "Saint-Etienne"},
		{"  ", ""},
		{"Aix-en-Provence", "Aix-en-Provence"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.in))
		})
	}
}

// Two adjacent 100m squares in Lambert-93 and one WGS84 polygon.
const zonesLambertJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"code_iris": "751010202", "nom_iris": "SAINT-GERMAIN"},
     "geometry": {"type": "Polygon", "coordinates": [[[100,0],[200,0],[200,100],[100,100],[100,0]]]}},
    {"type": "Feature", "properties": {"CODE_IRIS": "751010101", "NOM_IRIS": "Halles"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[100,0],[100,100],[0,100],[0,0]]]]}},
    {"type": "Feature", "properties": {"code_iris": "751010101", "nom_iris": "duplicate"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}
  ]
}`

func TestLoadZones(t *testing.T) {
	path := writeFile(t, "iris.geojson", zonesLambertJSON)

	zones, err := LoadZones(path, geo.CRSLambert93)
	require.NoError(t, err)

	assert.Equal(t, 2, zones.Len())
	assert.Equal(t, []string{"751010101", "751010202"}, zones.Codes())

	z, ok := zones.Zone("751010202")
	require.True(t, ok)
	assert.Equal(t, "Saint-Germain", z.Name)
	assert.Equal(t, "75101", z.CommuneCode)
	assert.Equal(t, 1, z.Geometry.NumPolygons())

	first, ok := zones.Zone("751010101")
	require.True(t, ok)
	assert.Equal(t, "Halles", first.Name)
	assert.InDelta(t, 100.0, first.Bounds.Max(0), 1e-9)
}

func TestZoneSet_Intersecting(t *testing.T) {
	path := writeFile(t, "iris.geojson", zonesLambertJSON)
	zones, err := LoadZones(path, geo.CRSLambert93)
	require.NoError(t, err)

	tests := []struct {
		name   string
		bounds *geom.Bounds
		want   []string
	}{
		{"left square only", geom.NewBounds(geom.XY).Set(10, 10, 20, 20), []string{"751010101"}},
		{"both squares", geom.NewBounds(geom.XY).Set(50, 10, 150, 20), []string{"751010101", "751010202"}},
		{"far away", geom.NewBounds(geom.XY).Set(1000, 1000, 2000, 2000), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, z := range zones.Intersecting(tt.bounds) {
				got = append(got, z.Code)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadZones_ProjectsWGS84(t *testing.T) {
	path := writeFile(t, "iris.geojson", `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"code_iris":"130010000"},
	   "geometry":{"type":"Polygon","coordinates":[[[2.9,46.4],[3.1,46.4],[3.1,46.6],[2.9,46.6],[2.9,46.4]]]}}]}`)

	zones, err := LoadZones(path, geo.CRSWGS84)
	require.NoError(t, err)
	require.Equal(t, 1, zones.Len())

	b := zones.Zones()[0].Bounds
	assert.Less(t, b.Min(0), 700000.0)
	assert.Greater(t, b.Max(0), 700000.0)
	assert.Less(t, b.Min(1), 6600000.0)
	assert.Greater(t, b.Max(1), 6600000.0)
}

func TestLoadZones_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a collection", `{"type":"Feature"}`},
		{"missing code", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`},
		{"point geometry", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"code_iris":"1"},"geometry":{"type":"Point","coordinates":[0,0]}}]}`},
		{"invalid json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadZones(writeFile(t, "iris.geojson", tt.content), geo.CRSLambert93)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	src := Sources{
		DepartmentsPath: writeFile(t, "departements.csv", departmentsCSV),
		RegionsPath:     writeFile(t, "regions.csv", regionsCSV),
		ZonesPath:       writeFile(t, "iris.geojson", zonesLambertJSON),
		ZonesCRS:        geo.CRSLambert93,
	}

	tables, err := Load(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tables.Zones.Len())
	assert.Equal(t, 0, tables.Communes.Len())
	assert.Len(t, tables.Regions.Departments(), 3)
}
