// Package http implements the optional status server of a pipeline run.
//
// The server is read-mostly: it exposes the state of the current or last run,
// its diagnostics and manifest, the Prometheus metrics and a WebSocket stream
// of stage progress. The only write is cancelling the run in progress.
//
// # Routes
//
//	GET  /healthz           liveness and whether a run is in progress
//	GET  /api/run           state and progress snapshot of the current or last run
//	POST /api/run/cancel    cancel the run in progress
//	GET  /api/diagnostics   row accounting of the current or last run
//	GET  /api/manifest      inputs, outputs and stage executions
//	GET  /metrics           Prometheus exposition, when metrics are enabled
//	GET  /ws                WebSocket stream of operation snapshots
//
// Every /api route is rate limited. Errors are rendered as errors.ErrorResponse.
package http
