// Package records is the record store of the DVF pipeline: the typed rows that flow
// between stages and the ledger reader that turns the public DVF CSV export into
// RawRow values.
//
// Rows are plain data. Every pipeline stage consumes and returns flat slices of these
// types; grouping is always done with explicit keys at the stage level, never by
// nesting rows inside one another.
//
// Null handling follows the ledger: an empty numeric cell becomes a nil pointer, an
// empty code becomes the empty string. The reader is strict about the shape of the
// file (required columns, parseable numbers and dates) and reports any violation as
// a fatal SchemaError before a single row reaches the pipeline.
package records
