// Package diagnostics accumulates per-stage row counts and the number of rows
// rejected, or conditions met, for each reason during one run.
package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Stage names a pipeline stage in the report.
type Stage string

const (
	StageRead      Stage = "read"
	StageCollapse  Stage = "collapse"
	StageOutliers  Stage = "outliers"
	StageAdjust    Stage = "time_adjustment"
	StageSpatial   Stage = "spatial_join"
	StageAggregate Stage = "aggregate"
)

// Reason names a rejection or a recoverable condition.
type Reason string

// Mutation collapser.
const (
	ReasonLandUseDuplicate   Reason = "land_use_duplicate"
	ReasonNonPricedNature    Reason = "non_priced_nature"
	ReasonNonResidential     Reason = "non_residential"
	ReasonLowValue           Reason = "low_or_missing_value"
	ReasonMissingSurface     Reason = "missing_surface"
	ReasonMissingCoordinates Reason = "missing_coordinates"
	ReasonZeroSurface        Reason = "zero_total_surface"
	ReasonRegionMissing      Reason = "region_missing"
)

// Outlier filter.
const (
	ReasonSurfaceOutOfRange   Reason = "surface_out_of_range"
	ReasonValueOutOfRange     Reason = "value_out_of_range"
	ReasonUnitPriceOutOfRange Reason = "unit_price_out_of_range"
	ReasonRoomsOutOfRange     Reason = "rooms_out_of_range"
	ReasonIQRSurface          Reason = "iqr_surface"
	ReasonIQRRooms            Reason = "iqr_rooms"
	ReasonIQRValue            Reason = "iqr_value"
	ReasonIQRUnitPrice        Reason = "iqr_unit_price"
	ReasonSmallCommuneGroup   Reason = "small_commune_group"
)

// Time adjustment.
const (
	ReasonReferenceYearFallback Reason = "reference_year_fallback"
	ReasonFactorUndefined       Reason = "factor_undefined"
	ReasonZeroMedian            Reason = "zero_median"
)

// Spatial join and aggregation.
const (
	ReasonNoZone          Reason = "no_zone"
	ReasonAmbiguousZone   Reason = "ambiguous_zone"
	ReasonBoundaryTie     Reason = "boundary_tie"
	ReasonZoneUnknown     Reason = "zone_unknown"
	ReasonPlaceholderRows Reason = "placeholder_rows"
)

// StageReport is the summary of one stage.
type StageReport struct {
	Stage      Stage            `json:"stage"`
	RowsIn     int              `json:"rows_in"`
	RowsOut    int              `json:"rows_out"`
	Rejected   map[Reason]int64 `json:"rejected"`
	Conditions map[Reason]int64 `json:"conditions"`
}

// Metrics receives the report counts when the report is mirrored.
type Metrics interface {
	RecordStageRows(ctx context.Context, stage string, rowsIn, rowsOut int64)
	RecordRejections(ctx context.Context, stage, reason string, n int64)
	RecordConditions(ctx context.Context, stage, reason string, n int64)
}

// Report is safe for concurrent use. A nil *Report discards everything.
type Report struct {
	mu            sync.Mutex
	runID         string
	referenceYear int
	order         []Stage
	stages        map[Stage]*StageReport
}

// New creates an empty report.
func New(runID string) *Report {
	return &Report{runID: runID, stages: make(map[Stage]*StageReport)}
}

func (r *Report) stage(s Stage) *StageReport {
	sr, ok := r.stages[s]
	if !ok {
		sr = &StageReport{Stage: s, Rejected: map[Reason]int64{}, Conditions: map[Reason]int64{}}
		r.stages[s] = sr
		r.order = append(r.order, s)
	}
	return sr
}

// SetReferenceYear records the reference year the run resolved.
func (r *Report) SetReferenceYear(year int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referenceYear = year
}

// SetRows records the input and output row counts of a stage.
func (r *Report) SetRows(s Stage, rowsIn, rowsOut int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sr := r.stage(s)
	sr.RowsIn, sr.RowsOut = rowsIn, rowsOut
}

// Reject adds n rows dropped by a stage for reason.
func (r *Report) Reject(s Stage, reason Reason, n int) {
	if r == nil || n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage(s).Rejected[reason] += int64(n)
}

// Note adds n occurrences of a recoverable condition that did not drop rows.
func (r *Report) Note(s Stage, reason Reason, n int) {
	if r == nil || n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage(s).Conditions[reason] += int64(n)
}

// Merge adds every count of other into r. Row counts of other win.
func (r *Report) Merge(other *Report) {
	if r == nil || other == nil {
		return
	}
	for _, sr := range other.Stages() {
		r.mu.Lock()
		dst := r.stage(sr.Stage)
		if sr.RowsIn != 0 || sr.RowsOut != 0 {
			dst.RowsIn, dst.RowsOut = sr.RowsIn, sr.RowsOut
		}
		for k, v := range sr.Rejected {
			dst.Rejected[k] += v
		}
		for k, v := range sr.Conditions {
			dst.Conditions[k] += v
		}
		r.mu.Unlock()
	}
}

// Rejected returns the rejection count of a stage for reason.
func (r *Report) Rejected(s Stage, reason Reason) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.stages[s]; ok {
		return sr.Rejected[reason]
	}
	return 0
}

// Condition returns the condition count of a stage for reason.
func (r *Report) Condition(s Stage, reason Reason) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.stages[s]; ok {
		return sr.Conditions[reason]
	}
	return 0
}

// TotalRejected sums every rejection of a stage.
func (r *Report) TotalRejected(s Stage) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	if sr, ok := r.stages[s]; ok {
		for _, v := range sr.Rejected {
			total += v
		}
	}
	return total
}

// Stages returns a copy of the stage reports in the order they were first touched.
func (r *Report) Stages() []StageReport {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageReport, 0, len(r.order))
	for _, s := range r.order {
		sr := r.stages[s]
		cp := StageReport{
			Stage:      sr.Stage,
			RowsIn:     sr.RowsIn,
			RowsOut:    sr.RowsOut,
			Rejected:   make(map[Reason]int64, len(sr.Rejected)),
			Conditions: make(map[Reason]int64, len(sr.Conditions)),
		}
		for k, v := range sr.Rejected {
			cp.Rejected[k] = v
		}
		for k, v := range sr.Conditions {
			cp.Conditions[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Summary is the serialized form of a report.
type Summary struct {
	RunID         string        `json:"run_id"`
	ReferenceYear int           `json:"reference_year,omitempty"`
	Stages        []StageReport `json:"stages"`
}

// Summary returns a snapshot of the report.
func (r *Report) Summary() Summary {
	if r == nil {
		return Summary{}
	}
	stages := r.Stages()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{RunID: r.runID, ReferenceYear: r.referenceYear, Stages: stages}
}

// WriteJSON writes the summary as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Summary())
}

// Mirror pushes every count to m.
func (r *Report) Mirror(ctx context.Context, m Metrics) {
	if r == nil || m == nil {
		return
	}
	for _, sr := range r.Stages() {
		stage := string(sr.Stage)
		m.RecordStageRows(ctx, stage, int64(sr.RowsIn), int64(sr.RowsOut))
		for _, reason := range sortedReasons(sr.Rejected) {
			m.RecordRejections(ctx, stage, string(reason), sr.Rejected[reason])
		}
		for _, reason := range sortedReasons(sr.Conditions) {
			m.RecordConditions(ctx, stage, string(reason), sr.Conditions[reason])
		}
	}
}

// Log writes one line per stage.
func (r *Report) Log(ctx context.Context, logger *slog.Logger) {
	if r == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, sr := range r.Stages() {
		attrs := []any{"stage", string(sr.Stage), "rows_in", sr.RowsIn, "rows_out", sr.RowsOut}
		for _, reason := range sortedReasons(sr.Rejected) {
			attrs = append(attrs, "rejected_"+string(reason), sr.Rejected[reason])
		}
		for _, reason := range sortedReasons(sr.Conditions) {
			attrs = append(attrs, string(reason), sr.Conditions[reason])
		}
		logger.InfoContext(ctx, "stage diagnostics", attrs...)
	}
}

func sortedReasons(m map[Reason]int64) []Reason {
	keys := make([]Reason, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
