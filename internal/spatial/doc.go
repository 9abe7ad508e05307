// Package spatial assigns transactions to IRIS zones.
//
// Points are projected to Lambert-93 and processed in chunks of one department at
// a time, split further by geohash order when a department exceeds the chunk
// size. Each chunk builds a grid index over the zones whose bounding box meets the
// chunk and drops it when done, so only one chunk's index per worker is alive.
//
// A point inside exactly one zone gets that zone. A point inside two or more zones
// is ambiguous and keeps no zone. A point on the boundary of zones without lying
// inside any gets the first of them in code order.
package spatial
