// Package collapse reduces the multi-row mutations of the ledger to one
// NormalizedTransaction per (mutation, disposition).
package collapse

import (
	"context"
	"log/slog"
	"sort"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/records"
)

// UnknownLandUse replaces an empty land-use category so grouping never drops rows.
const UnknownLandUse = "unknown"

// MinPropertyValue is the exclusive lower bound on the declared value of a kept row.
const MinPropertyValue = 100.0

// RegionLookup resolves the region of a department.
type RegionLookup interface {
	RegionOf(dept string) (string, bool)
}

// Collapser implements the mutation reduction.
type Collapser struct {
	regions RegionLookup
	logger  *slog.Logger
}

// New creates a Collapser. regions may be nil, in which case every row is a region gap.
func New(regions RegionLookup, logger *slog.Logger) *Collapser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collapser{regions: regions, logger: logger}
}

// row is a RawRow carrying the flags computed by the collapse steps.
type row struct {
	records.RawRow
	hasDependency bool
}

type parcelKey struct {
	mutation    string
	disposition int
	parcel      string
	nature      records.MutationNature
}

type landUseKey struct {
	parcelKey
	landUse string
	special string
}

type dispositionKey struct {
	mutation    string
	disposition int
}

// Collapse runs the reduction steps in order. Input order is the source order.
func (c *Collapser) Collapse(ctx context.Context, raw []records.RawRow, report *diagnostics.Report) ([]records.NormalizedTransaction, error) {
	c.logger.InfoContext(ctx, "collapsing mutations", "rows_in", len(raw))

	rows := fillLandUse(raw)
	rows = dedupLandUse(rows, report)
	flagDependencies(rows)
	rows = filterRows(rows, report)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := c.reduce(ctx, rows, report)
	c.joinRegions(ctx, out, report)

	report.SetRows(diagnostics.StageCollapse, len(raw), len(out))
	c.logger.InfoContext(ctx, "collapsed mutations",
		"rows_in", len(raw),
		"rows_kept", len(rows),
		"transactions", len(out),
	)
	return out, nil
}

func fillLandUse(raw []records.RawRow) []row {
	rows := make([]row, len(raw))
	for i, r := range raw {
		if r.LandUseType == "" {
			r.LandUseType = UnknownLandUse
		}
		if r.SpecialLandUseType == "" {
			r.SpecialLandUseType = UnknownLandUse
		}
		rows[i] = row{RawRow: r}
	}
	return rows
}

// dedupLandUse keeps, within each parcel group, only the rows whose land use equals
// the first land use seen for that group.
func dedupLandUse(rows []row, report *diagnostics.Report) []row {
	first := make(map[parcelKey]string)
	kept := rows[:0]
	removed := 0
	for _, r := range rows {
		k := parcelKey{r.MutationID, r.DispositionNo, r.ParcelID, r.MutationNature}
		lu, seen := first[k]
		if !seen {
			first[k] = r.LandUseType
			lu = r.LandUseType
		}
		if r.LandUseType != lu {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	report.Reject(diagnostics.StageCollapse, diagnostics.ReasonLandUseDuplicate, removed)
	return kept
}

// flagDependencies marks every row of a land-use group that contains an outbuilding.
func flagDependencies(rows []row) {
	withDep := make(map[landUseKey]bool)
	for _, r := range rows {
		if r.PropertyType == records.PropertyTypeOutbuilding {
			withDep[keyOf(r)] = true
		}
	}
	for i := range rows {
		rows[i].hasDependency = withDep[keyOf(rows[i])]
	}
}

func keyOf(r row) landUseKey {
	return landUseKey{
		parcelKey: parcelKey{r.MutationID, r.DispositionNo, r.ParcelID, r.MutationNature},
		landUse:   r.LandUseType,
		special:   r.SpecialLandUseType,
	}
}

// rejectReason returns the first business predicate r fails, or "".
func rejectReason(r row) diagnostics.Reason {
	switch {
	case !r.MutationNature.Priced():
		return diagnostics.ReasonNonPricedNature
	case !r.PropertyType.Residential():
		return diagnostics.ReasonNonResidential
	case r.PropertyValue == nil || *r.PropertyValue <= MinPropertyValue:
		return diagnostics.ReasonLowValue
	case r.BuiltSurface == nil || *r.BuiltSurface <= 0:
		return diagnostics.ReasonMissingSurface
	case r.Latitude == nil || r.Longitude == nil:
		return diagnostics.ReasonMissingCoordinates
	}
	return ""
}

func filterRows(rows []row, report *diagnostics.Report) []row {
	kept := rows[:0]
	for _, r := range rows {
		if reason := rejectReason(r); reason != "" {
			report.Reject(diagnostics.StageCollapse, reason, 1)
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// reduce emits one transaction per disposition, in order of first appearance.
func (c *Collapser) reduce(ctx context.Context, rows []row, report *diagnostics.Report) []records.NormalizedTransaction {
	var order []dispositionKey
	groups := make(map[dispositionKey][]row)
	for _, r := range rows {
		k := dispositionKey{r.MutationID, r.DispositionNo}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]records.NormalizedTransaction, 0, len(order))
	zero := 0
	for _, k := range order {
		t, ok := reduceGroup(groups[k])
		if !ok {
			zero++
			continue
		}
		out = append(out, t)
	}
	if zero > 0 {
		report.Reject(diagnostics.StageCollapse, diagnostics.ReasonZeroSurface, zero)
		c.logger.WarnContext(ctx, "dropped dispositions with zero built surface", "count", zero)
	}
	return out
}

// reduceGroup collapses the rows of one disposition. It reports false when the
// total built surface is zero.
func reduceGroup(group []row) (records.NormalizedTransaction, bool) {
	first := group[0]

	var total, valueSum float64
	rooms := 0
	parcels := make([]string, len(group))
	surfaces := make([]float64, len(group))
	for i, r := range group {
		total += *r.BuiltSurface
		valueSum += *r.PropertyValue
		if r.NumRooms != nil {
			rooms += *r.NumRooms
		}
		parcels[i] = r.ParcelID
		surfaces[i] = *r.BuiltSurface
	}
	if total <= 0 {
		return records.NormalizedTransaction{}, false
	}

	meanValue := valueSum / float64(len(group))
	prices := make([]float64, len(group))
	for i, s := range surfaces {
		prices[i] = meanValue / total * s
	}

	value := *first.PropertyValue
	return records.NormalizedTransaction{
		TransactionKey:    records.TransactionKey(first.MutationID, first.DispositionNo),
		MutationID:        first.MutationID,
		DispositionNo:     first.DispositionNo,
		Date:              first.Date,
		MutationNature:    first.MutationNature,
		PropertyType:      first.PropertyType,
		PropertyValue:     value,
		ParcelIDs:         parcels,
		BuiltSurfaces:     surfaces,
		RowPrices:         prices,
		PrimaryParcelID:   parcels[0],
		TotalBuiltSurface: total,
		NumRooms:          rooms,
		HasDependency:     first.hasDependency,
		UnitPrice:         value / total,
		Address:           first.Address(),
		PostalCode:        first.PostalCode,
		CommuneCode:       first.CommuneCode,
		CommuneName:       first.CommuneName,
		DepartmentCode:    first.DepartmentCode,
		Latitude:          *first.Latitude,
		Longitude:         *first.Longitude,
	}, true
}

// joinRegions fills RegionCode. Misses stay empty and are counted per transaction.
func (c *Collapser) joinRegions(ctx context.Context, txs []records.NormalizedTransaction, report *diagnostics.Report) {
	missing := make(map[string]int)
	for i := range txs {
		if c.regions != nil {
			if reg, ok := c.regions.RegionOf(txs[i].DepartmentCode); ok {
				txs[i].RegionCode = reg
				continue
			}
		}
		missing[txs[i].DepartmentCode]++
	}
	if len(missing) == 0 {
		return
	}

	depts := make([]string, 0, len(missing))
	total := 0
	for d, n := range missing {
		depts = append(depts, d)
		total += n
	}
	sort.Strings(depts)
	report.Note(diagnostics.StageCollapse, diagnostics.ReasonRegionMissing, total)
	c.logger.WarnContext(ctx, "departments missing from region mapping",
		"departments", depts,
		"transactions", total,
	)
}
