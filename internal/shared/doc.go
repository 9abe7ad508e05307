// Package shared holds helpers used across the dvfcli packages.
//
// The testutil subpackage captures slog output in tests:
//
//	logger, handler := testutil.NewTestLogger(t)
//	// ... exercise code that logs ...
//	testutil.AssertLogContains(t, handler, slog.LevelError, "failed to write run records")
package shared
