// Package exporter writes the outputs of a run for downstream consumers.
//
// CSVWriter is the low-level writer (headers, append, streaming, UTF-8 BOM for
// spreadsheet tools). Exporter builds on it to produce:
//
//	transactions.csv                    normalized transactions, one row per disposition
//	aggregates/<level>/<span>.csv       GeoAggregates partitioned by level and span
//	adjustment_factors.csv              the (department, type, year) factor lookup
//	top_cities.json                     ranked cities, checked against an embedded JSON schema
//	summary.xlsx                        top cities and run diagnostics
//
// Nullable statistics are written as empty cells.
package exporter
