// Package adjust rescales unit prices to reference-year market conditions using
// department × property type × year medians.
package adjust

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/records"
	"dvfcli/internal/stats"
)

// DefaultReferenceYear is the latest full year of the published ledger.
const DefaultReferenceYear = 2025

// Pair identifies an adjustment series.
type Pair struct {
	Department string
	Type       records.PropertyType
}

// Factor is one entry of the lookup.
type Factor struct {
	Pair
	Year   int
	Median float64
	// Value is nil when the factor is undefined.
	Value *float64
}

// Factors is the run-scoped lookup (department, type, year) → factor.
type Factors struct {
	ReferenceYear int
	series        map[Pair]*series
}

type series struct {
	medians       map[int]float64
	numeratorYear int
	numerator     float64
}

func (s *series) factor(year int) (float64, bool) {
	m, ok := s.medians[year]
	if !ok || m == 0 {
		return 0, false
	}
	return s.numerator / m, true
}

// Median returns median_price(dept, type, year).
func (f *Factors) Median(dept string, typ records.PropertyType, year int) (float64, bool) {
	s, ok := f.series[Pair{dept, typ}]
	if !ok {
		return 0, false
	}
	m, ok := s.medians[year]
	return m, ok
}

// Factor returns the adjustment factor of a year. It reports false when the factor
// is undefined: no median for that year, or a zero median.
func (f *Factors) Factor(dept string, typ records.PropertyType, year int) (float64, bool) {
	s, ok := f.series[Pair{dept, typ}]
	if !ok {
		return 0, false
	}
	return s.factor(year)
}

// NumeratorYear returns the year whose median is the numerator of the pair: the
// reference year, or the latest year of the pair when the reference year is absent.
func (f *Factors) NumeratorYear(dept string, typ records.PropertyType) (int, bool) {
	s, ok := f.series[Pair{dept, typ}]
	if !ok {
		return 0, false
	}
	return s.numeratorYear, true
}

// Entries lists every (pair, year) with data, sorted by department, type and year.
func (f *Factors) Entries() []Factor {
	var out []Factor
	for pair, s := range f.series {
		for year, m := range s.medians {
			e := Factor{Pair: pair, Year: year, Median: m}
			if v, ok := s.factor(year); ok {
				e.Value = &v
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Department != b.Department {
			return a.Department < b.Department
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Year < b.Year
	})
	return out
}

// Calculator builds the lookup and applies it.
type Calculator struct {
	referenceYear int
	workers       int
	logger        *slog.Logger
}

// New creates a Calculator. A referenceYear of 0 uses the latest year in the data.
func New(referenceYear, workers int, logger *slog.Logger) *Calculator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{referenceYear: referenceYear, workers: workers, logger: logger}
}

// ResolveReferenceYear returns the configured reference year, or the latest year of
// txs when none is configured.
func (c *Calculator) ResolveReferenceYear(txs []records.NormalizedTransaction) int {
	if c.referenceYear > 0 {
		return c.referenceYear
	}
	latest := 0
	for _, tx := range txs {
		if y := tx.Year(); y > latest {
			latest = y
		}
	}
	return latest
}

// Apply builds the lookup from txs and sets TimeAdjustedUnitPrice on every
// transaction in place.
func (c *Calculator) Apply(ctx context.Context, txs []records.NormalizedTransaction, report *diagnostics.Report) (*Factors, error) {
	ref := c.ResolveReferenceYear(txs)
	report.SetReferenceYear(ref)
	c.logger.InfoContext(ctx, "starting time adjustment",
		"reference_year", ref,
		"transactions", len(txs),
	)

	var pairs []Pair
	members := make(map[Pair][]int)
	for i, tx := range txs {
		p := Pair{tx.DepartmentCode, tx.PropertyType}
		if _, ok := members[p]; !ok {
			pairs = append(pairs, p)
		}
		members[p] = append(members[p], i)
	}

	built := make([]*series, len(pairs))
	undefined := make([]int, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for n, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := buildSeries(txs, members[p], ref)
			for _, i := range members[p] {
				f, ok := s.factor(txs[i].Year())
				if !ok {
					txs[i].TimeAdjustedUnitPrice = nil
					undefined[n]++
					continue
				}
				v := txs[i].UnitPrice * f
				txs[i].TimeAdjustedUnitPrice = &v
			}
			built[n] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("time adjustment: %w", err)
	}

	factors := &Factors{ReferenceYear: ref, series: make(map[Pair]*series, len(pairs))}
	fallbacks, zeroMedians, rows := 0, 0, 0
	for n, p := range pairs {
		s := built[n]
		factors.series[p] = s
		rows += undefined[n]
		if s.numeratorYear != ref {
			fallbacks++
			c.logger.DebugContext(ctx, "reference year missing for pair, using latest year",
				"department_code", p.Department,
				"property_type", string(p.Type),
				"numerator_year", s.numeratorYear,
			)
		}
		for _, m := range s.medians {
			if m == 0 {
				zeroMedians++
			}
		}
	}

	report.Note(diagnostics.StageAdjust, diagnostics.ReasonReferenceYearFallback, fallbacks)
	report.Note(diagnostics.StageAdjust, diagnostics.ReasonZeroMedian, zeroMedians)
	report.Note(diagnostics.StageAdjust, diagnostics.ReasonFactorUndefined, rows)
	report.SetRows(diagnostics.StageAdjust, len(txs), len(txs))

	c.logger.InfoContext(ctx, "time adjustment complete",
		"pairs", len(pairs),
		"fallback_pairs", fallbacks,
		"undefined_factors", rows,
	)
	return factors, nil
}

func buildSeries(txs []records.NormalizedTransaction, idx []int, ref int) *series {
	byYear := make(map[int][]float64)
	for _, i := range idx {
		y := txs[i].Year()
		byYear[y] = append(byYear[y], txs[i].UnitPrice)
	}

	s := &series{medians: make(map[int]float64, len(byYear))}
	latest := 0
	for y, prices := range byYear {
		s.medians[y] = stats.Median(prices)
		if y > latest {
			latest = y
		}
	}

	s.numeratorYear = ref
	if _, ok := s.medians[ref]; !ok {
		s.numeratorYear = latest
	}
	s.numerator = s.medians[s.numeratorYear]
	return s
}
