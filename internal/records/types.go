package records

import (
	"fmt"
	"strings"
	"time"
)

// PropertyType is the kind of premises sold (type_local).
type PropertyType string

const (
	PropertyTypeUnknown     PropertyType = ""
	PropertyTypeApartment   PropertyType = "Apartment"
	PropertyTypeHouse       PropertyType = "House"
	PropertyTypeOutbuilding PropertyType = "Outbuilding"
	PropertyTypeCommercial  PropertyType = "Commercial"
	PropertyTypeOther       PropertyType = "Other"
)

// ParsePropertyType maps a ledger label (French or canonical) to a PropertyType.
func ParsePropertyType(label string) PropertyType {
	label = strings.TrimSpace(label)
	switch {
	case label == "":
		return PropertyTypeUnknown
	case label == "Appartement" || label == string(PropertyTypeApartment):
		return PropertyTypeApartment
	case label == "Maison" || label == string(PropertyTypeHouse):
		return PropertyTypeHouse
	case label == "Dépendance" || label == string(PropertyTypeOutbuilding):
		return PropertyTypeOutbuilding
	case strings.HasPrefix(label, "Local industriel") || label == string(PropertyTypeCommercial):
		return PropertyTypeCommercial
	default:
		return PropertyTypeOther
	}
}

// Residential reports whether the type is one of the two priced dwelling types.
func (p PropertyType) Residential() bool {
	return p == PropertyTypeApartment || p == PropertyTypeHouse
}

// MutationNature is the legal nature of a mutation (nature_mutation).
type MutationNature string

const (
	MutationNatureUnknown          MutationNature = ""
	MutationNatureSale             MutationNature = "Sale"
	MutationNatureOffPlanSale      MutationNature = "OffPlanSale"
	MutationNatureAuction          MutationNature = "Auction"
	MutationNatureExchange         MutationNature = "Exchange"
	MutationNatureBuildingLandSale MutationNature = "BuildingLandSale"
	MutationNatureExpropriation    MutationNature = "Expropriation"
	MutationNatureOther            MutationNature = "Other"
)

// ParseMutationNature maps a ledger label (French or canonical) to a MutationNature.
func ParseMutationNature(label string) MutationNature {
	label = strings.ReplaceAll(strings.TrimSpace(label), "’", "'")
	switch label {
	case "":
		return MutationNatureUnknown
	case "Vente", string(MutationNatureSale):
		return MutationNatureSale
	case "Vente en l'état futur d'achèvement", string(MutationNatureOffPlanSale):
		return MutationNatureOffPlanSale
	case "Adjudication", string(MutationNatureAuction):
		return MutationNatureAuction
	case "Echange", "Échange", string(MutationNatureExchange):
		return MutationNatureExchange
	case "Vente terrain à bâtir", string(MutationNatureBuildingLandSale):
		return MutationNatureBuildingLandSale
	case string(MutationNatureExpropriation):
		return MutationNatureExpropriation
	default:
		return MutationNatureOther
	}
}

// Priced reports whether the nature is a market sale kept by the pipeline.
func (m MutationNature) Priced() bool {
	switch m {
	case MutationNatureSale, MutationNatureOffPlanSale, MutationNatureAuction:
		return true
	}
	return false
}

// RawRow is one line of the source ledger.
type RawRow struct {
	// Line is the 1-based data line in the source file and defines source order.
	Line int `json:"line"`

	MutationID     string         `json:"mutation_id" validate:"required"`
	Date           time.Time      `json:"date" validate:"required"`
	DispositionNo  int            `json:"disposition_no" validate:"gte=0"`
	MutationNature MutationNature `json:"mutation_nature"`
	PropertyValue  *float64       `json:"property_value" validate:"omitempty,gte=0"`

	AddressNumber string `json:"address_number"`
	AddressSuffix string `json:"address_suffix"`
	StreetName    string `json:"street_name"`
	StreetCode    string `json:"street_code"`

	PostalCode     string `json:"postal_code"`
	CommuneCode    string `json:"commune_code" validate:"required,len=5"`
	CommuneName    string `json:"commune_name"`
	DepartmentCode string `json:"department_code" validate:"required,min=2,max=3"`

	ParcelID           string       `json:"parcel_id"`
	PropertyType       PropertyType `json:"property_type"`
	BuiltSurface       *float64     `json:"built_surface" validate:"omitempty,gte=0"`
	NumRooms           *int         `json:"num_rooms" validate:"omitempty,gte=0"`
	LandUseType        string       `json:"land_use_type"`
	SpecialLandUseType string       `json:"special_land_use_type"`
	LandSurface        *float64     `json:"land_surface" validate:"omitempty,gte=0"`

	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
}

// Address joins the non-empty address parts.
func (r RawRow) Address() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.AddressNumber + r.AddressSuffix, r.StreetName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizedTransaction is one priced disposition after collapsing.
type NormalizedTransaction struct {
	TransactionKey string         `json:"transaction_key"`
	MutationID     string         `json:"mutation_id"`
	DispositionNo  int            `json:"disposition_no"`
	Date           time.Time      `json:"date"`
	MutationNature MutationNature `json:"mutation_nature"`
	PropertyType   PropertyType   `json:"property_type"`
	PropertyValue  float64        `json:"property_value"`

	// Retained per-row payload, in source order.
	ParcelIDs     []string  `json:"parcel_ids"`
	BuiltSurfaces []float64 `json:"built_surfaces"`
	RowPrices     []float64 `json:"row_prices"`

	PrimaryParcelID   string  `json:"primary_parcel_id"`
	TotalBuiltSurface float64 `json:"total_built_surface"`
	NumRooms          int     `json:"num_rooms"`
	HasDependency     bool    `json:"has_dependency"`
	UnitPrice         float64 `json:"unit_price"`

	Address        string  `json:"address"`
	PostalCode     string  `json:"postal_code"`
	CommuneCode    string  `json:"commune_code"`
	CommuneName    string  `json:"commune_name"`
	DepartmentCode string  `json:"department_code"`
	RegionCode     string  `json:"region_code,omitempty"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`

	IrisCode string `json:"iris_code,omitempty"`
	IrisName string `json:"iris_name,omitempty"`

	// TimeAdjustedUnitPrice is nil when no adjustment factor is available.
	TimeAdjustedUnitPrice *float64 `json:"time_adjusted_unit_price,omitempty"`
}

// Year is the calendar year of the mutation date.
func (t NormalizedTransaction) Year() int {
	return t.Date.Year()
}

// TransactionKey derives the unique key of a disposition.
func TransactionKey(mutationID string, dispositionNo int) string {
	return fmt.Sprintf("%s_%d", mutationID, dispositionNo)
}
