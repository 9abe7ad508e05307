package records

import (
	"fmt"
	"strings"
)

// Ledger column names of the geolocated DVF export.
const (
	ColMutationID         = "id_mutation"
	ColDate               = "date_mutation"
	ColDispositionNo      = "numero_disposition"
	ColMutationNature     = "nature_mutation"
	ColPropertyValue      = "valeur_fonciere"
	ColAddressNumber      = "adresse_numero"
	ColAddressSuffix      = "adresse_suffixe"
	ColStreetName         = "adresse_nom_voie"
	ColStreetCode         = "adresse_code_voie"
	ColPostalCode         = "code_postal"
	ColCommuneCode        = "code_commune"
	ColCommuneName        = "nom_commune"
	ColDepartmentCode     = "code_departement"
	ColParcelID           = "id_parcelle"
	ColPropertyType       = "type_local"
	ColBuiltSurface       = "surface_reelle_bati"
	ColNumRooms           = "nombre_pieces_principales"
	ColLandUseType        = "nature_culture"
	ColSpecialLandUseType = "nature_culture_speciale"
	ColLandSurface        = "surface_terrain"
	ColLongitude          = "longitude"
	ColLatitude           = "latitude"
)

// RequiredColumns must all be present in the ledger header.
var RequiredColumns = []string{
	ColMutationID,
	ColDate,
	ColDispositionNo,
	ColMutationNature,
	ColPropertyValue,
	ColPostalCode,
	ColCommuneCode,
	ColCommuneName,
	ColDepartmentCode,
	ColParcelID,
	ColPropertyType,
	ColBuiltSurface,
	ColNumRooms,
	ColLandUseType,
	ColSpecialLandUseType,
	ColLandSurface,
	ColLongitude,
	ColLatitude,
}

// OptionalColumns are read when present.
var OptionalColumns = []string{
	ColAddressNumber,
	ColAddressSuffix,
	ColStreetName,
	ColStreetCode,
}

// SchemaError describes why the ledger does not conform to the RawRow schema.
type SchemaError struct {
	Column string
	Line   int
	Value  string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Line == 0:
		return fmt.Sprintf("column %s: %s", e.Column, e.Reason)
	case e.Column == "":
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	default:
		return fmt.Sprintf("line %d column %s value %q: %s", e.Line, e.Column, e.Value, e.Reason)
	}
}

// columnIndex maps a header to column positions.
type columnIndex map[string]int

func newColumnIndex(header []string) (columnIndex, error) {
	idx := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		idx[strings.ToLower(name)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{
			Column: strings.Join(missing, ","),
			Reason: "required column missing",
		}
	}
	return idx, nil
}

// nullTokens are cell values read as missing.
var nullTokens = map[string]struct{}{
	"NA":   {},
	"null": {},
}

// get returns the trimmed cell for col, or "" when the column is absent or
// the cell holds a null token.
func (c columnIndex) get(record []string, col string) string {
	i, ok := c[col]
	if !ok || i >= len(record) {
		return ""
	}
	v := strings.TrimSpace(record[i])
	if _, null := nullTokens[v]; null {
		return ""
	}
	return v
}
