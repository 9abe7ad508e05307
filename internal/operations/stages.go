package operations

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dvfcli/internal/adjust"
	"dvfcli/internal/aggregate"
	"dvfcli/internal/collapse"
	"dvfcli/internal/config"
	"dvfcli/internal/diagnostics"
	"dvfcli/internal/exporter"
	"dvfcli/internal/geo"
	"dvfcli/internal/outliers"
	"dvfcli/internal/records"
	"dvfcli/internal/reference"
	"dvfcli/internal/spatial"
	"dvfcli/internal/validation"
)

// Sink receives the final tables of a run.
type Sink interface {
	Name() string
	WriteTransactions(ctx context.Context, txs []records.NormalizedTransaction) (int64, error)
	WriteAggregates(ctx context.Context, aggs []aggregate.GeoAggregate) (int64, error)
}

// StageDeps are the collaborators shared by the pipeline stages.
type StageDeps struct {
	Config   *config.Config
	Report   *diagnostics.Report
	Exporter *exporter.Exporter
	Sinks    []Sink
	Tracer   *OperationTracer
	Logger   *slog.Logger
	Options  *StageOptions
}

func (d *StageDeps) logger(stageID string) *slog.Logger {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("step", stageID))
}

// stageBase carries what every DVF stage needs besides BaseStage.
type stageBase struct {
	BaseStage
	deps   *StageDeps
	logger *slog.Logger
}

func newStageBase(id, name string, deps *StageDeps, dependencies []string, inputs []DataRequirement, outputs []DataOutput) stageBase {
	return stageBase{
		BaseStage: NewBaseStage(id, name, dependencies).WithData(inputs, outputs),
		deps:      deps,
		logger:    deps.logger(id),
	}
}

// updateProgress records progress on the step state and broadcasts it.
func (s *stageBase) updateProgress(state *OperationState, progress int, message string) {
	if stepState := state.GetStage(s.ID()); stepState != nil {
		stepState.UpdateProgress(float64(progress), message)
	}
	if s.deps.Options != nil && s.deps.Options.EnableProgress && s.deps.Options.StatusBroadcaster != nil {
		s.deps.Options.StatusBroadcaster.UpdateStepProgress(state.ID, s.ID(), progress, message)
	}
}

// finish records the row counts of a stage on its state, span and manifest.
func (s *stageBase) finish(ctx context.Context, state *OperationState, dataType string, rowsIn, rowsOut int, metadata map[string]interface{}) {
	if stepState := state.GetStage(s.ID()); stepState != nil {
		stepState.SetMetadata("rows_in", rowsIn)
		stepState.SetMetadata("rows_out", rowsOut)
		for k, v := range metadata {
			stepState.SetMetadata(k, v)
		}
	}
	s.deps.Tracer.RecordStageRows(ctx, s.ID(), rowsIn, rowsOut)
	if state.Manifest != nil && dataType != "" {
		state.Manifest.AddData(&DataInfo{Type: dataType, Rows: rowsOut, CreatedBy: s.ID(), Metadata: metadata})
	}
}

func transactionsFrom(state *OperationState) ([]records.NormalizedTransaction, error) {
	return ContextValue[[]records.NormalizedTransaction](state, ContextKeyTransactions)
}

func referenceFrom(state *OperationState) (*reference.Tables, error) {
	return ContextValue[*reference.Tables](state, ContextKeyReference)
}

// ReadStage loads the reference tables and the ledger. A ledger that does not
// conform to the schema fails the run before any transformation.
type ReadStage struct {
	stageBase
}

// NewReadStage creates the ingestion stage
func NewReadStage(deps *StageDeps) *ReadStage {
	return &ReadStage{newStageBase(StageIDRead, StageNameRead, deps, nil, nil,
		[]DataOutput{{Type: DataTypeRawRows}, {Type: DataTypeReference}})}
}

// Validate checks that the input files exist with the expected types and that
// the IRIS CRS parses.
func (s *ReadStage) Validate(state *OperationState) error {
	v := validation.NewFileValidator(s.logger)
	if err := v.ValidateInputs(s.deps.Config.Paths); err != nil {
		return NewValidationError(s.ID(), err.Error())
	}
	if _, err := geo.ParseCRS(s.deps.Config.Pipeline.IrisCRS); err != nil {
		return NewValidationError(s.ID(), err.Error())
	}
	return nil
}

// Execute fingerprints the inputs, loads the reference tables and reads the ledger.
func (s *ReadStage) Execute(ctx context.Context, state *OperationState) error {
	paths := s.deps.Config.Paths
	s.updateProgress(state, 5, "Fingerprinting inputs")
	if state.Manifest != nil {
		inputs := []struct{ role, path string }{
			{"ledger", paths.Ledger},
			{"departments", paths.Departments},
			{"regions", paths.Regions},
			{"communes", paths.Communes},
			{"iris", paths.Iris},
		}
		for _, in := range inputs {
			if err := state.Manifest.RecordInput(in.role, in.path); err != nil {
				return err
			}
		}
		state.Manifest.AddData(&DataInfo{Type: DataTypeLedger, Rows: 0, Files: []string{paths.Ledger}, CreatedBy: s.ID()})
	}

	s.updateProgress(state, 15, "Loading reference tables")
	crs, _ := geo.ParseCRS(s.deps.Config.Pipeline.IrisCRS)
	tables, err := reference.Load(ctx, reference.Sources{
		DepartmentsPath: paths.Departments,
		RegionsPath:     paths.Regions,
		CommunesPath:    paths.Communes,
		ZonesPath:       paths.Iris,
		ZonesCRS:        crs,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("load reference tables: %w", err)
	}
	state.SetContext(ContextKeyReference, tables)
	if state.Manifest != nil {
		state.Manifest.AddData(&DataInfo{
			Type:      DataTypeReference,
			Rows:      len(tables.Regions.Departments()),
			CreatedBy: s.ID(),
			Metadata: map[string]interface{}{
				"communes":   tables.Communes.Len(),
				"iris_zones": tables.Zones.Len(),
			},
		})
	}

	s.updateProgress(state, 40, "Reading ledger")
	start := time.Now()
	raw, err := records.NewReader(s.logger).ReadFile(ctx, paths.Ledger)
	if err != nil {
		return err
	}
	s.deps.Report.SetRows(diagnostics.StageRead, len(raw), len(raw))
	state.SetContext(ContextKeyRawRows, raw)

	s.logger.InfoContext(ctx, "read ledger",
		slog.Int("rows", len(raw)),
		slog.Duration("duration", time.Since(start)))
	s.finish(ctx, state, DataTypeRawRows, len(raw), len(raw), nil)
	return nil
}

// CollapseStage reduces raw rows to one transaction per disposition.
type CollapseStage struct {
	stageBase
}

// NewCollapseStage creates the mutation collapse stage
func NewCollapseStage(deps *StageDeps) *CollapseStage {
	return &CollapseStage{newStageBase(StageIDCollapse, StageNameCollapse, deps,
		[]string{StageIDRead},
		[]DataRequirement{{Type: DataTypeRawRows}, {Type: DataTypeReference}},
		[]DataOutput{{Type: DataTypeTransactions}})}
}

// Execute collapses the raw rows and joins region codes.
func (s *CollapseStage) Execute(ctx context.Context, state *OperationState) error {
	raw, err := ContextValue[[]records.RawRow](state, ContextKeyRawRows)
	if err != nil {
		return err
	}
	tables, err := referenceFrom(state)
	if err != nil {
		return err
	}

	s.updateProgress(state, 10, "Collapsing mutations")
	txs, err := collapse.New(tables.Regions, s.logger).Collapse(ctx, raw, s.deps.Report)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyTransactions, txs)
	// The raw rows are not needed past this point.
	state.SetContext(ContextKeyRawRows, nil)

	s.finish(ctx, state, DataTypeTransactions, len(raw), len(txs), map[string]interface{}{
		"rejected": s.deps.Report.TotalRejected(diagnostics.StageCollapse),
	})
	return nil
}

// OutliersStage applies the hard bounds and the per-commune IQR fences.
type OutliersStage struct {
	stageBase
}

// NewOutliersStage creates the outlier filtering stage
func NewOutliersStage(deps *StageDeps) *OutliersStage {
	return &OutliersStage{newStageBase(StageIDOutliers, StageNameOutliers, deps,
		[]string{StageIDCollapse},
		[]DataRequirement{{Type: DataTypeTransactions}},
		[]DataOutput{{Type: DataTypeFiltered}})}
}

// Execute filters the transactions.
func (s *OutliersStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}

	pipeline := s.deps.Config.Pipeline
	filter := outliers.New(outliers.Config{
		Hard:         outliers.DefaultHardBounds(),
		MinGroupSize: pipeline.IQRMinGroup,
		Multiplier:   pipeline.IQRMultiplier,
		Workers:      s.deps.Config.WorkerCount(),
	}, s.logger)

	s.updateProgress(state, 10, "Filtering outliers")
	out, err := filter.Apply(ctx, txs, s.deps.Report)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyTransactions, out)

	s.finish(ctx, state, DataTypeFiltered, len(txs), len(out), map[string]interface{}{
		"rejected": s.deps.Report.TotalRejected(diagnostics.StageOutliers),
	})
	return nil
}

// AdjustStage computes the time adjustment factors and adjusted unit prices.
type AdjustStage struct {
	stageBase
}

// NewAdjustStage creates the time adjustment stage
func NewAdjustStage(deps *StageDeps) *AdjustStage {
	return &AdjustStage{newStageBase(StageIDAdjust, StageNameAdjust, deps,
		[]string{StageIDOutliers},
		[]DataRequirement{{Type: DataTypeFiltered}},
		[]DataOutput{{Type: DataTypeFactors}})}
}

// Execute sets TimeAdjustedUnitPrice on every transaction.
func (s *AdjustStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}

	s.updateProgress(state, 10, "Computing adjustment factors")
	calc := adjust.New(s.deps.Config.Pipeline.ReferenceYear, s.deps.Config.WorkerCount(), s.logger)
	factors, err := calc.Apply(ctx, txs, s.deps.Report)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyFactors, factors)
	state.SetContext(ContextKeyReferenceYear, factors.ReferenceYear)
	if state.Manifest != nil {
		state.Manifest.SetReferenceYear(factors.ReferenceYear)
	}

	entries := factors.Entries()
	s.finish(ctx, state, DataTypeFactors, len(txs), len(entries), map[string]interface{}{
		"reference_year": factors.ReferenceYear,
	})
	return nil
}

// SpatialStage assigns IRIS zones to the transactions.
type SpatialStage struct {
	stageBase
}

// NewSpatialStage creates the spatial join stage
func NewSpatialStage(deps *StageDeps) *SpatialStage {
	return &SpatialStage{newStageBase(StageIDSpatial, StageNameSpatial, deps,
		[]string{StageIDAdjust},
		[]DataRequirement{{Type: DataTypeFiltered}, {Type: DataTypeReference}},
		[]DataOutput{{Type: DataTypeJoined}})}
}

// Execute joins the transactions in place.
func (s *SpatialStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}
	tables, err := referenceFrom(state)
	if err != nil {
		return err
	}

	cfg := spatial.DefaultConfig()
	cfg.ChunkSize = s.deps.Config.Pipeline.ChunkSize
	cfg.Workers = s.deps.Config.WorkerCount()

	s.updateProgress(state, 10, fmt.Sprintf("Joining %d transactions to %d zones", len(txs), tables.Zones.Len()))
	stats, err := spatial.New(tables.Zones, cfg, s.logger).Join(ctx, txs, s.deps.Report)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyJoinStats, stats)

	s.finish(ctx, state, DataTypeJoined, len(txs), len(txs), map[string]interface{}{
		"chunks":    stats.Chunks,
		"matched":   stats.Matched(),
		"ambiguous": stats.Ambiguous,
		"no_zone":   stats.NoZone,
	})
	return nil
}

// AggregateStage builds the GeoAggregate table and the top cities view.
type AggregateStage struct {
	stageBase
}

// NewAggregateStage creates the aggregation stage
func NewAggregateStage(deps *StageDeps) *AggregateStage {
	return &AggregateStage{newStageBase(StageIDAggregate, StageNameAggregate, deps,
		[]string{StageIDSpatial},
		[]DataRequirement{{Type: DataTypeJoined}, {Type: DataTypeReference}},
		[]DataOutput{{Type: DataTypeAggregates}})}
}

// Execute aggregates every level, type slice and time span.
func (s *AggregateStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}
	tables, err := referenceFrom(state)
	if err != nil {
		return err
	}
	refYear, err := ContextValue[int](state, ContextKeyReferenceYear)
	if err != nil {
		refYear = s.deps.Config.Pipeline.ReferenceYear
	}

	s.updateProgress(state, 10, "Aggregating")
	agg := aggregate.New(aggregate.Reference{
		Regions:  tables.Regions,
		Communes: tables.Communes,
		Zones:    tables.Zones,
	}, s.deps.Config.WorkerCount(), s.logger)
	res, err := agg.Aggregate(ctx, txs, refYear, s.deps.Report)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyAggregates, res)

	pipeline := s.deps.Config.Pipeline
	cities := aggregate.TopCities(res, pipeline.TopN, pipeline.MergeArrondissements)
	state.SetContext(ContextKeyTopCities, cities)

	s.finish(ctx, state, DataTypeAggregates, len(txs), len(res.Aggregates), map[string]interface{}{
		"reference_year": res.ReferenceYear,
		"top_cities":     len(cities),
	})
	return nil
}

// ExportStage writes the files of the enabled formats and the diagnostics.
type ExportStage struct {
	stageBase
}

// NewExportStage creates the export stage
func NewExportStage(deps *StageDeps) *ExportStage {
	return &ExportStage{newStageBase(StageIDExport, StageNameExport, deps,
		[]string{StageIDAggregate},
		[]DataRequirement{{Type: DataTypeAggregates}},
		[]DataOutput{{Type: DataTypeExports}})}
}

// Validate checks the exporter is wired.
func (s *ExportStage) Validate(state *OperationState) error {
	if s.deps.Exporter == nil {
		return NewValidationError(s.ID(), "no exporter configured")
	}
	return nil
}

// Execute writes every output.
func (s *ExportStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}
	res, err := ContextValue[*aggregate.Result](state, ContextKeyAggregates)
	if err != nil {
		return err
	}
	cities, _ := ContextValue[[]aggregate.City](state, ContextKeyTopCities)
	factors, _ := ContextValue[*adjust.Factors](state, ContextKeyFactors)

	if err := s.deps.Exporter.Paths().EnsureDirectories(); err != nil {
		return err
	}

	cfg := s.deps.Config
	type job struct {
		name    string
		enabled bool
		run     func() ([]string, error)
	}
	jobs := []job{
		{"transactions", cfg.ExportsFormat("csv"), func() ([]string, error) {
			p, err := s.deps.Exporter.WriteTransactions(ctx, txs)
			return []string{p}, err
		}},
		{"aggregates", cfg.ExportsFormat("csv"), func() ([]string, error) {
			return s.deps.Exporter.WriteAggregates(ctx, res)
		}},
		{"factors", cfg.ExportsFormat("csv") && factors != nil, func() ([]string, error) {
			p, err := s.deps.Exporter.WriteFactors(factors)
			return []string{p}, err
		}},
		{"top_cities", cfg.ExportsFormat("json"), func() ([]string, error) {
			p, err := s.deps.Exporter.WriteTopCities(exporter.TopCitiesDocument{
				ReferenceYear:        res.ReferenceYear,
				MergeArrondissements: cfg.Pipeline.MergeArrondissements,
				GeneratedAt:          time.Now().UTC(),
				Cities:               cities,
			})
			return []string{p}, err
		}},
		{"summary", cfg.ExportsFormat("xlsx"), func() ([]string, error) {
			p, err := s.deps.Exporter.WriteSummary(cities, s.deps.Report.Summary())
			return []string{p}, err
		}},
		{"diagnostics", true, func() ([]string, error) {
			p, err := s.writeDiagnostics()
			return []string{p}, err
		}},
	}

	tracker := NewProgressTracker(s.ID(), len(jobs))
	var written []string
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Increment(j.name)
		if !j.enabled {
			continue
		}
		_, _, pct, _ := tracker.GetProgress()
		s.updateProgress(state, int(pct), fmt.Sprintf("Writing %s", j.name))

		paths, err := j.run()
		if err != nil {
			return fmt.Errorf("write %s: %w", j.name, err)
		}
		for _, p := range paths {
			if info, statErr := os.Stat(p); statErr == nil {
				s.deps.Tracer.RecordOutput(ctx, j.name, info.Size())
			}
		}
		written = append(written, paths...)
	}
	state.SetContext(ContextKeyOutputs, written)
	if state.Manifest != nil {
		state.Manifest.AddOutputs(written...)
	}

	s.logger.InfoContext(ctx, "wrote outputs",
		slog.Int("files", len(written)),
		slog.String("output_dir", s.deps.Exporter.Paths().OutputDir),
		slog.String("elapsed", tracker.GetElapsedTimeString()))
	s.finish(ctx, state, DataTypeExports, len(txs), len(written), nil)
	return nil
}

func (s *ExportStage) writeDiagnostics() (string, error) {
	path := s.deps.Exporter.Paths().DiagnosticsJSON
	return path, writeReport(s.deps.Report, path)
}

// SinksStage loads the transactions and aggregates into the relational sinks.
type SinksStage struct {
	stageBase
}

// NewSinksStage creates the relational sinks stage
func NewSinksStage(deps *StageDeps) *SinksStage {
	return &SinksStage{newStageBase(StageIDSinks, StageNameSinks, deps,
		[]string{StageIDAggregate},
		[]DataRequirement{{Type: DataTypeJoined}, {Type: DataTypeAggregates}},
		nil)}
}

// Validate checks at least one sink is configured.
func (s *SinksStage) Validate(state *OperationState) error {
	if len(s.deps.Sinks) == 0 {
		return NewValidationError(s.ID(), "no sink configured")
	}
	return nil
}

// Execute writes both tables to every sink.
func (s *SinksStage) Execute(ctx context.Context, state *OperationState) error {
	txs, err := transactionsFrom(state)
	if err != nil {
		return err
	}
	res, err := ContextValue[*aggregate.Result](state, ContextKeyAggregates)
	if err != nil {
		return err
	}

	metadata := make(map[string]interface{}, 2*len(s.deps.Sinks))
	for i, sink := range s.deps.Sinks {
		s.updateProgress(state, (i*100)/len(s.deps.Sinks), fmt.Sprintf("Loading %s", sink.Name()))

		n, err := sink.WriteTransactions(ctx, txs)
		if err != nil {
			return fmt.Errorf("%s: %w", sink.Name(), err)
		}
		metadata[sink.Name()+"_transactions"] = n

		n, err = sink.WriteAggregates(ctx, res.Aggregates)
		if err != nil {
			return fmt.Errorf("%s: %w", sink.Name(), err)
		}
		metadata[sink.Name()+"_aggregates"] = n

		s.logger.InfoContext(ctx, "loaded sink",
			slog.String("sink", sink.Name()),
			slog.Int("transactions", len(txs)),
			slog.Int("aggregates", len(res.Aggregates)))
	}
	s.finish(ctx, state, "", len(txs)+len(res.Aggregates), len(txs)+len(res.Aggregates), metadata)
	return nil
}
