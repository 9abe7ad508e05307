// Package geo holds the coordinate reference systems used by the pipeline.
//
// Transactions arrive as WGS84 longitude/latitude; IRIS boundaries are published in
// Lambert-93 (EPSG:2154). Containment tests are always done in Lambert-93 metres.
package geo
