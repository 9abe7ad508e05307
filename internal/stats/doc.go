// Package stats provides the order statistics shared by the outlier filter, the
// time adjustment calculator and the hierarchical aggregator.
//
// All quantiles use linear interpolation between closest ranks at position
// p*(n-1) over the sorted sample, so for any sample
//
//	Quantile(s, 0.25) <= Median(s) <= Quantile(s, 0.75)
//
// Functions never mutate their input; callers that already hold a sorted copy
// should use the *Sorted variants to avoid re-sorting.
package stats
