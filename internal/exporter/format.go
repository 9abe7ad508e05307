package exporter

import (
	"fmt"
	"strconv"
	"strings"
)

// formatFloat formats a float64 value for CSV output with exactly 2 decimal places
func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

// formatOptional formats a nullable statistic, nil as an empty cell.
func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

// formatCoordinate keeps six decimals, about ten centimetres.
func formatCoordinate(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// formatInt formats an int value for CSV output
func formatInt(i int) string {
	return strconv.Itoa(i)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// formatFloats joins a per-row payload with '|'.
func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, "|")
}
