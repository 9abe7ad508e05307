// Package operations runs the DVF pipeline as an ordered set of stages.
//
// A Registry holds the stages and orders them by their declared dependencies.
// The Manager executes them one after the other against a shared OperationState,
// applying the per-stage timeout and retry policy of its Config. Every stage
// reads its inputs from the state context and records the data sets it produces
// in the run's PipelineManifest, so a stage whose inputs are missing is skipped
// rather than started.
//
// The stages of a full run are, in order:
//
//	read             ledger and reference tables
//	collapse         one transaction per disposition
//	outliers         hard bounds, then per-commune IQR fences
//	time_adjustment  median ratio factors toward the reference year
//	spatial_join     IRIS zone assignment
//	aggregate        GeoAggregate table and top cities
//	export           CSV, JSON, XLSX and diagnostics files
//	sinks            optional PostgreSQL and SQLite loads
//
// Progress and status changes go through a StatusBroadcaster, which serialises
// updates on one goroutine and forwards snapshots to a WebSocketHub.
//
// Example usage:
//
//	p, err := operations.NewPipeline(cfg, logger, operations.PipelineOptions{})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	resp, err := p.Run(ctx)
package operations
