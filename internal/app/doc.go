// Package app wires a DVF processing run together: OpenTelemetry providers,
// relational sinks, the staged pipeline and the optional status server.
//
// # Lifecycle
//
//	a, err := app.New(ctx, cfg, logger, app.Options{})
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.Background())
//
//	a.Start()
//	resp, err := a.Run(ctx)
//
// Close shuts the status server down first, then the websocket hub, the
// pipeline, the sinks and finally flushes telemetry.
package app
