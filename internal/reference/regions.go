package reference

import (
	"fmt"
	"sort"
)

// RegionTable maps departments to regions.
type RegionTable struct {
	deptToRegion map[string]string
	deptNames    map[string]string
	regionNames  map[string]string
}

// NewRegionTable builds a table from explicit mappings. Names may be nil.
func NewRegionTable(deptToRegion, deptNames, regionNames map[string]string) *RegionTable {
	t := &RegionTable{
		deptToRegion: make(map[string]string, len(deptToRegion)),
		deptNames:    make(map[string]string, len(deptNames)),
		regionNames:  make(map[string]string, len(regionNames)),
	}
	for k, v := range deptToRegion {
		t.deptToRegion[k] = v
	}
	for k, v := range deptNames {
		t.deptNames[k] = DisplayName(v)
	}
	for k, v := range regionNames {
		t.regionNames[k] = DisplayName(v)
	}
	return t
}

// LoadRegionTable reads the INSEE department table (DEP, REG, LIBELLE) and, when
// regionsPath is not empty, the region table (REG, LIBELLE).
func LoadRegionTable(departmentsPath, regionsPath string) (*RegionTable, error) {
	deps, err := readTable(departmentsPath)
	if err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	if !deps.has("DEP") || !deps.has("REG") {
		return nil, fmt.Errorf("load departments: columns DEP and REG are required")
	}

	deptToRegion := make(map[string]string, len(deps.rows))
	deptNames := make(map[string]string, len(deps.rows))
	for i := range deps.rows {
		dep := deps.value(i, "DEP")
		if dep == "" {
			continue
		}
		deptToRegion[dep] = deps.value(i, "REG")
		if name := deps.value(i, "LIBELLE", "NCCENR"); name != "" {
			deptNames[dep] = name
		}
	}

	regionNames := map[string]string{}
	if regionsPath != "" {
		regs, err := readTable(regionsPath)
		if err != nil {
			return nil, fmt.Errorf("load regions: %w", err)
		}
		for i := range regs.rows {
			if reg := regs.value(i, "REG"); reg != "" {
				regionNames[reg] = regs.value(i, "LIBELLE", "NCCENR")
			}
		}
	}

	return NewRegionTable(deptToRegion, deptNames, regionNames), nil
}

// RegionOf returns the region code of a department.
func (t *RegionTable) RegionOf(dept string) (string, bool) {
	reg, ok := t.deptToRegion[dept]
	return reg, ok && reg != ""
}

// RegionName returns the display name of a region or "".
func (t *RegionTable) RegionName(reg string) string {
	return t.regionNames[reg]
}

// DepartmentName returns the display name of a department or "".
func (t *RegionTable) DepartmentName(dept string) string {
	return t.deptNames[dept]
}

// Departments returns every known department code, sorted.
func (t *RegionTable) Departments() []string {
	return sortedKeys(t.deptToRegion)
}

// Regions returns every region code referenced by a department, sorted.
func (t *RegionTable) Regions() []string {
	seen := make(map[string]string)
	for _, reg := range t.deptToRegion {
		if reg != "" {
			seen[reg] = reg
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
