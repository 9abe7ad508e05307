package reference

import (
	"fmt"
	"strings"
)

// CommuneTable holds commune names and their department.
type CommuneTable struct {
	names       map[string]string
	departments map[string]string
}

// NewCommuneTable builds an empty table.
func NewCommuneTable() *CommuneTable {
	return &CommuneTable{
		names:       make(map[string]string),
		departments: make(map[string]string),
	}
}

// LoadCommuneTable reads the INSEE commune table (TYPECOM, COM, DEP, LIBELLE).
// Associated and delegated communes are skipped; municipal arrondissements are kept.
func LoadCommuneTable(path string) (*CommuneTable, error) {
	tbl, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("load communes: %w", err)
	}
	if !tbl.has("COM") {
		return nil, fmt.Errorf("load communes: column COM is required")
	}

	t := NewCommuneTable()
	for i := range tbl.rows {
		switch tbl.value(i, "TYPECOM") {
		case "", "COM", "ARM":
		default:
			continue
		}
		code := tbl.value(i, "COM")
		if code == "" {
			continue
		}
		dep := tbl.value(i, "DEP")
		if dep == "" {
			dep = DepartmentOfCommune(code)
		}
		t.Add(code, tbl.value(i, "LIBELLE", "NCCENR"), dep)
	}
	return t, nil
}

// Add registers a commune.
func (t *CommuneTable) Add(code, name, dept string) {
	t.names[code] = DisplayName(name)
	t.departments[code] = dept
}

// Name returns the display name of a commune or "".
func (t *CommuneTable) Name(code string) string {
	return t.names[code]
}

// Department returns the department of a commune.
func (t *CommuneTable) Department(code string) (string, bool) {
	d, ok := t.departments[code]
	return d, ok
}

// Codes returns every commune code, sorted.
func (t *CommuneTable) Codes() []string {
	return sortedKeys(t.names)
}

// Len returns the number of communes.
func (t *CommuneTable) Len() int {
	return len(t.names)
}

// DepartmentOfCommune derives the department from an INSEE commune code: three
// characters overseas (97x, 98x), two elsewhere (including 2A/2B).
func DepartmentOfCommune(code string) string {
	if len(code) < 3 {
		return code
	}
	if strings.HasPrefix(code, "97") || strings.HasPrefix(code, "98") {
		return code[:3]
	}
	return code[:2]
}
