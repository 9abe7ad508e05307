// Package reference loads the run-scoped lookup tables the pipeline joins against:
// the INSEE department and region tables, the optional commune table and the IRIS
// zone boundaries.
//
// Tables are built once before the first stage runs and are read-only afterwards,
// so they can be shared by every worker of a stage without locking.
//
// Tabular sources may be CSV (any of , ; | or tab as delimiter) or XLSX (first
// sheet). Column names follow the INSEE COG files (DEP, REG, COM, LIBELLE, ...).
// IRIS boundaries are a GeoJSON FeatureCollection whose features carry code_iris and
// nom_iris properties.
package reference
