// Package aggregate summarises clean transactions per geographic level, property
// type and time span, and derives the top-cities view.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/records"
	"dvfcli/internal/reference"
	"dvfcli/internal/stats"
)

// Reference supplies names, parents and the placeholder universe. Nil tables are
// skipped.
type Reference struct {
	Regions  *reference.RegionTable
	Communes *reference.CommuneTable
	Zones    *reference.ZoneSet
}

// Result is the output of one aggregation.
type Result struct {
	ReferenceYear int
	Spans         []Span
	Aggregates    []GeoAggregate
}

// Select returns the rows of one level and span, in output order.
func (r *Result) Select(level Level, span string) []GeoAggregate {
	var out []GeoAggregate
	for _, a := range r.Aggregates {
		if a.Level == level && a.TimeSpan == span {
			out = append(out, a)
		}
	}
	return out
}

// Find returns the row of one group.
func (r *Result) Find(level Level, code string, typ TypeSlice, span string) (GeoAggregate, bool) {
	for _, a := range r.Aggregates {
		if a.Level == level && a.GeoCode == code && a.PropertyType == typ && a.TimeSpan == span {
			return a, true
		}
	}
	return GeoAggregate{}, false
}

// Aggregator computes GeoAggregates.
type Aggregator struct {
	ref     Reference
	workers int
	logger  *slog.Logger
}

// New creates an Aggregator.
func New(ref Reference, workers int, logger *slog.Logger) *Aggregator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{ref: ref, workers: workers, logger: logger}
}

// group is one geo code of a level with the indices of its transactions.
type group struct {
	code    string
	name    string
	parent  string
	members []int
}

// Aggregate emits one row per (level, code, type, span). Every level is computed
// independently.
func (a *Aggregator) Aggregate(ctx context.Context, txs []records.NormalizedTransaction, referenceYear int, report *diagnostics.Report) (*Result, error) {
	spans := Spans(referenceYear)
	a.logger.InfoContext(ctx, "starting aggregation",
		"transactions", len(txs),
		"reference_year", referenceYear,
	)

	perLevel := make([][]GeoAggregate, len(Levels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for n, level := range Levels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			groups := a.groups(level, txs)
			rows := make([]GeoAggregate, 0, len(groups)*len(TypeSlices)*len(spans))
			for _, grp := range groups {
				for _, typ := range TypeSlices {
					for _, span := range spans {
						rows = append(rows, summarize(level, grp, typ, span, txs))
					}
				}
			}
			perLevel[n] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	res := &Result{ReferenceYear: referenceYear, Spans: spans}
	placeholders := 0
	for n, rows := range perLevel {
		res.Aggregates = append(res.Aggregates, rows...)
		empty := 0
		for _, r := range rows {
			if r.Placeholder() {
				empty++
			}
		}
		placeholders += empty
		a.logger.DebugContext(ctx, "aggregated level",
			"geo_level", string(Levels[n]),
			"rows", len(rows),
			"placeholder_rows", empty,
		)
	}

	report.Note(diagnostics.StageAggregate, diagnostics.ReasonPlaceholderRows, placeholders)
	report.SetRows(diagnostics.StageAggregate, len(txs), len(res.Aggregates))
	a.logger.InfoContext(ctx, "aggregation complete",
		"rows", len(res.Aggregates),
		"placeholder_rows", placeholders,
	)
	return res, nil
}

// groups returns the groups of a level sorted by code: codes observed in txs plus
// the codes the reference tables know at that level.
func (a *Aggregator) groups(level Level, txs []records.NormalizedTransaction) []group {
	byCode := make(map[string]*group)
	add := func(code, name, parent string) *group {
		g, ok := byCode[code]
		if !ok {
			g = &group{code: code}
			byCode[code] = g
		}
		if g.name == "" {
			g.name = name
		}
		if g.parent == "" {
			g.parent = parent
		}
		return g
	}

	for i, tx := range txs {
		code, name, parent := a.keyOf(level, tx)
		if code == "" {
			continue
		}
		g := add(code, name, parent)
		g.members = append(g.members, i)
	}

	switch level {
	case LevelCountry:
		add(CountryCode, CountryName, "")
	case LevelRegion:
		if a.ref.Regions != nil {
			for _, reg := range a.ref.Regions.Regions() {
				add(reg, a.ref.Regions.RegionName(reg), CountryCode)
			}
		}
	case LevelDepartment:
		if a.ref.Regions != nil {
			for _, dep := range a.ref.Regions.Departments() {
				reg, _ := a.ref.Regions.RegionOf(dep)
				add(dep, a.ref.Regions.DepartmentName(dep), reg)
			}
		}
	case LevelCommune:
		if a.ref.Communes != nil {
			for _, com := range a.ref.Communes.Codes() {
				dep, _ := a.ref.Communes.Department(com)
				add(com, a.ref.Communes.Name(com), dep)
			}
		}
	case LevelIris:
		if a.ref.Zones != nil {
			for _, z := range a.ref.Zones.Zones() {
				add(z.Code, z.Name, z.CommuneCode)
			}
		}
	}

	out := make([]group, 0, len(byCode))
	for _, g := range byCode {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

// keyOf returns the code, display name and parent code of tx at a level.
func (a *Aggregator) keyOf(level Level, tx records.NormalizedTransaction) (code, name, parent string) {
	switch level {
	case LevelCountry:
		return CountryCode, CountryName, ""
	case LevelRegion:
		if a.ref.Regions != nil {
			name = a.ref.Regions.RegionName(tx.RegionCode)
		}
		return tx.RegionCode, name, CountryCode
	case LevelDepartment:
		if a.ref.Regions != nil {
			name = a.ref.Regions.DepartmentName(tx.DepartmentCode)
		}
		return tx.DepartmentCode, name, tx.RegionCode
	case LevelCommune:
		name = tx.CommuneName
		if name == "" && a.ref.Communes != nil {
			name = a.ref.Communes.Name(tx.CommuneCode)
		}
		return tx.CommuneCode, name, tx.DepartmentCode
	case LevelIris:
		return tx.IrisCode, tx.IrisName, tx.CommuneCode
	case LevelParcel:
		return tx.PrimaryParcelID, "", tx.CommuneCode
	}
	return "", "", ""
}

func summarize(level Level, g group, typ TypeSlice, span Span, txs []records.NormalizedTransaction) GeoAggregate {
	row := GeoAggregate{
		Level:        level,
		GeoCode:      g.code,
		GeoName:      g.name,
		ParentCode:   g.parent,
		PropertyType: typ,
		TimeSpan:     span.Name,
	}

	var prices, adjusted []float64
	for _, i := range g.members {
		tx := txs[i]
		if !typ.includes(tx.PropertyType) || !span.Contains(tx.Year()) {
			continue
		}
		prices = append(prices, tx.UnitPrice)
		if tx.TimeAdjustedUnitPrice != nil {
			adjusted = append(adjusted, *tx.TimeAdjustedUnitPrice)
		}
		switch tx.PropertyType {
		case records.PropertyTypeHouse:
			row.HouseCount++
		case records.PropertyTypeApartment:
			row.ApartmentCount++
		}
	}

	row.TransactionCount = len(prices)
	if row.TransactionCount == 0 {
		return row
	}
	s := stats.Summarize(prices)
	row.MeanPrice = ptr(s.Mean)
	row.Q25Price = ptr(s.Q25)
	row.MedianPrice = ptr(s.Median)
	row.Q75Price = ptr(s.Q75)
	if len(adjusted) > 0 {
		row.MedianTimeAdjustedPrice = ptr(stats.Median(adjusted))
	}
	return row
}

func ptr(v float64) *float64 {
	return &v
}
