// Package outliers removes implausible transactions in two passes: fixed national
// bounds, then per-commune interquartile bounds.
package outliers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"dvfcli/internal/diagnostics"
	"dvfcli/internal/records"
	"dvfcli/internal/stats"
)

// Bounds is an inclusive range.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// HardBounds are the national thresholds.
type HardBounds struct {
	Surface   Bounds `yaml:"surface" json:"surface"`
	Value     Bounds `yaml:"value" json:"value"`
	UnitPrice Bounds `yaml:"unit_price" json:"unit_price"`
	Rooms     Bounds `yaml:"rooms" json:"rooms"`
}

// DefaultHardBounds returns the thresholds in m², €, €/m² and rooms.
func DefaultHardBounds() HardBounds {
	return HardBounds{
		Surface:   Bounds{Min: 5, Max: 1000},
		Value:     Bounds{Min: 10_000, Max: 10_000_000},
		UnitPrice: Bounds{Min: 400, Max: 30_000},
		Rooms:     Bounds{Min: 1, Max: 20},
	}
}

// Config parameterises a Filter.
type Config struct {
	Hard HardBounds
	// MinGroupSize is the smallest commune group the IQR pass filters.
	MinGroupSize int
	// Multiplier scales the IQR into the fence width.
	Multiplier float64
	Workers    int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Hard:         DefaultHardBounds(),
		MinGroupSize: 10,
		Multiplier:   1.5,
		Workers:      runtime.NumCPU(),
	}
}

// Filter applies both passes.
type Filter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Filter. Zero fields of cfg take their default.
func New(cfg Config, logger *slog.Logger) *Filter {
	def := DefaultConfig()
	if cfg.Hard == (HardBounds{}) {
		cfg.Hard = def.Hard
	}
	if cfg.MinGroupSize <= 0 {
		cfg.MinGroupSize = def.MinGroupSize
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{cfg: cfg, logger: logger}
}

// Apply runs the hard pass, then the IQR pass, and returns the survivors in input order.
func (f *Filter) Apply(ctx context.Context, txs []records.NormalizedTransaction, report *diagnostics.Report) ([]records.NormalizedTransaction, error) {
	hard := f.ApplyHard(txs, report)
	out, err := f.ApplyIQR(ctx, hard, report)
	if err != nil {
		return nil, err
	}

	report.SetRows(diagnostics.StageOutliers, len(txs), len(out))
	f.logger.InfoContext(ctx, "filtered outliers",
		"rows_in", len(txs),
		"after_hard_bounds", len(hard),
		"rows_out", len(out),
	)
	return out, nil
}

// ApplyHard drops every transaction outside a national threshold. A transaction is
// counted under the first variable it fails.
func (f *Filter) ApplyHard(txs []records.NormalizedTransaction, report *diagnostics.Report) []records.NormalizedTransaction {
	out := make([]records.NormalizedTransaction, 0, len(txs))
	for _, tx := range txs {
		if reason := f.hardReason(tx); reason != "" {
			report.Reject(diagnostics.StageOutliers, reason, 1)
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (f *Filter) hardReason(tx records.NormalizedTransaction) diagnostics.Reason {
	h := f.cfg.Hard
	switch {
	case !h.Surface.Contains(tx.TotalBuiltSurface):
		return diagnostics.ReasonSurfaceOutOfRange
	case !h.Value.Contains(tx.PropertyValue):
		return diagnostics.ReasonValueOutOfRange
	case !h.UnitPrice.Contains(tx.UnitPrice):
		return diagnostics.ReasonUnitPriceOutOfRange
	case !h.Rooms.Contains(float64(tx.NumRooms)):
		return diagnostics.ReasonRoomsOutOfRange
	}
	return ""
}

// variable is one of the four quantities fenced by the IQR pass.
type variable struct {
	reason diagnostics.Reason
	get    func(records.NormalizedTransaction) float64
}

var iqrVariables = []variable{
	{diagnostics.ReasonIQRSurface, func(t records.NormalizedTransaction) float64 { return t.TotalBuiltSurface }},
	{diagnostics.ReasonIQRRooms, func(t records.NormalizedTransaction) float64 { return float64(t.NumRooms) }},
	{diagnostics.ReasonIQRValue, func(t records.NormalizedTransaction) float64 { return t.PropertyValue }},
	{diagnostics.ReasonIQRUnitPrice, func(t records.NormalizedTransaction) float64 { return t.UnitPrice }},
}

// ApplyIQR fences each commune group of at least MinGroupSize transactions. The
// fences are recomputed on the survivors until no row is dropped, so applying the
// pass to its own output removes nothing.
func (f *Filter) ApplyIQR(ctx context.Context, txs []records.NormalizedTransaction, report *diagnostics.Report) ([]records.NormalizedTransaction, error) {
	var order []string
	groups := make(map[string][]int)
	for i, tx := range txs {
		if _, ok := groups[tx.CommuneCode]; !ok {
			order = append(order, tx.CommuneCode)
		}
		groups[tx.CommuneCode] = append(groups[tx.CommuneCode], i)
	}

	keep := make([]bool, len(txs))
	for i := range keep {
		keep[i] = true
	}

	small := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for _, commune := range order {
		idx := groups[commune]
		if len(idx) < f.cfg.MinGroupSize {
			small++
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rejected := f.fenceGroup(txs, idx, keep)
			for reason, n := range rejected {
				report.Reject(diagnostics.StageOutliers, reason, n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("iqr filter: %w", err)
	}

	if small > 0 {
		report.Note(diagnostics.StageOutliers, diagnostics.ReasonSmallCommuneGroup, small)
		f.logger.DebugContext(ctx, "communes below iqr group size passed through",
			"communes", small,
			"min_group_size", f.cfg.MinGroupSize,
		)
	}

	out := make([]records.NormalizedTransaction, 0, len(txs))
	for i, tx := range txs {
		if keep[i] {
			out = append(out, tx)
		}
	}
	return out, nil
}

// fenceGroup clears keep for the rejected members of one commune. It only writes
// the indices of idx.
func (f *Filter) fenceGroup(txs []records.NormalizedTransaction, idx []int, keep []bool) map[diagnostics.Reason]int {
	rejected := make(map[diagnostics.Reason]int)
	alive := idx
	for len(alive) >= f.cfg.MinGroupSize {
		fences := make([]Bounds, len(iqrVariables))
		for v, variable := range iqrVariables {
			values := make([]float64, len(alive))
			for j, i := range alive {
				values[j] = variable.get(txs[i])
			}
			lo, hi := stats.IQRBounds(values, f.cfg.Multiplier)
			fences[v] = Bounds{Min: lo, Max: hi}
		}

		next := make([]int, 0, len(alive))
		for _, i := range alive {
			reason := diagnostics.Reason("")
			for v, variable := range iqrVariables {
				if !fences[v].Contains(variable.get(txs[i])) {
					reason = variable.reason
					break
				}
			}
			if reason != "" {
				keep[i] = false
				rejected[reason]++
				continue
			}
			next = append(next, i)
		}
		if len(next) == len(alive) {
			break
		}
		alive = next
	}
	return rejected
}

// CommuneFences returns the IQR fences of each commune group large enough to be
// filtered, computed on txs as given.
func (f *Filter) CommuneFences(txs []records.NormalizedTransaction) map[string]map[diagnostics.Reason]Bounds {
	groups := make(map[string][]records.NormalizedTransaction)
	for _, tx := range txs {
		groups[tx.CommuneCode] = append(groups[tx.CommuneCode], tx)
	}
	out := make(map[string]map[diagnostics.Reason]Bounds)
	for commune, group := range groups {
		if len(group) < f.cfg.MinGroupSize {
			continue
		}
		fences := make(map[diagnostics.Reason]Bounds, len(iqrVariables))
		for _, variable := range iqrVariables {
			values := make([]float64, len(group))
			for j, tx := range group {
				values[j] = variable.get(tx)
			}
			lo, hi := stats.IQRBounds(values, f.cfg.Multiplier)
			fences[variable.reason] = Bounds{Min: lo, Max: hi}
		}
		out[commune] = fences
	}
	return out
}
