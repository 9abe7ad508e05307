package stats

import (
	"math"
	"sort"
)

// Summary holds the descriptive statistics reported for a group of prices.
type Summary struct {
	Count  int
	Mean   float64
	Q25    float64
	Median float64
	Q75    float64
}

// Sorted returns an ascending copy of values.
func Sorted(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// QuantileSorted returns the p-quantile of an ascending sample. It returns NaN for
// an empty sample.
func QuantileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	index := p * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Quantile returns the p-quantile of values.
func Quantile(values []float64, p float64) float64 {
	return QuantileSorted(Sorted(values), p)
}

// Median returns the median of values, NaN when empty.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// Mean returns the arithmetic mean of values, NaN when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Summarize computes count, mean and quartiles in a single sort.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Q25: nan, Median: nan, Q75: nan}
	}
	sorted := Sorted(values)
	return Summary{
		Count:  len(sorted),
		Mean:   Mean(sorted),
		Q25:    QuantileSorted(sorted, 0.25),
		Median: QuantileSorted(sorted, 0.5),
		Q75:    QuantileSorted(sorted, 0.75),
	}
}

// IQRBounds returns the Tukey fences [q25 - k*iqr, q75 + k*iqr].
func IQRBounds(values []float64, k float64) (lower, upper float64) {
	sorted := Sorted(values)
	q25 := QuantileSorted(sorted, 0.25)
	q75 := QuantileSorted(sorted, 0.75)
	iqr := q75 - q25
	return q25 - k*iqr, q75 + k*iqr
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
