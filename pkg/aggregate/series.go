package aggregate

import (
	"time"

	errs "postpulse/pkg/errors"
)

// SmoothMode selects how a per-date series is smoothed.
type SmoothMode string

const (
	// SmoothTrailingMean averages each day with the n-1 days before it.
	SmoothTrailingMean SmoothMode = "trailing"
	// SmoothCenteredMean averages a window centred on each day, repeating the edge values
	// past both ends of the series.
	SmoothCenteredMean SmoothMode = "centered"
	// SmoothFIR is a moving-average FIR filter with zero initial conditions.
	SmoothFIR SmoothMode = "fir"
)

// Smooth applies mode with window n. A window of 1 or less returns a copy of y.
func Smooth(mode SmoothMode, y []float64, n int) ([]float64, error) {
	switch mode {
	case SmoothTrailingMean, "":
		return SmoothTrailing(y, n), nil
	case SmoothCenteredMean:
		return SmoothCentered(y, n), nil
	case SmoothFIR:
		return FIRFilter(y, n), nil
	default:
		return nil, errs.InvalidConfiguration("unknown smoothing mode %q", mode)
	}
}

// SmoothTrailing replaces every value with the mean of itself and up to n-1 previous values.
// The first n-1 values average over the shorter window that exists.
func SmoothTrailing(y []float64, n int) []float64 {
	out := make([]float64, len(y))
	if n <= 1 {
		copy(out, y)
		return out
	}
	sum := 0.0
	for i, v := range y {
		sum += v
		if i >= n {
			sum -= y[i-n]
		}
		width := n
		if i+1 < n {
			width = i + 1
		}
		out[i] = sum / float64(width)
	}
	return out
}

// SmoothCentered averages a window of n values centred on each index. Indices past either end
// are clamped, so the first and last values count several times near the edges. Even windows
// are widened by one.
func SmoothCentered(y []float64, n int) []float64 {
	out := make([]float64, len(y))
	if n <= 1 || len(y) == 0 {
		copy(out, y)
		return out
	}
	radius := n / 2
	width := float64(2*radius + 1)
	last := len(y) - 1
	for i := range y {
		sum := 0.0
		for j := i - radius; j <= i+radius; j++ {
			k := j
			if k < 0 {
				k = 0
			} else if k > last {
				k = last
			}
			sum += y[k]
		}
		out[i] = sum / width
	}
	return out
}

// FIRFilter computes out[i] = (y[i] + y[i-1] + ... + y[i-n+1]) / n with y treated as zero
// before the first index.
func FIRFilter(y []float64, n int) []float64 {
	out := make([]float64, len(y))
	if n <= 1 {
		copy(out, y)
		return out
	}
	coeff := 1.0 / float64(n)
	sum := 0.0
	for i, v := range y {
		sum += v
		if i >= n {
			sum -= y[i-n]
		}
		out[i] = sum * coeff
	}
	return out
}

// DivideZeros divides element-wise; a zero denominator yields zero.
func DivideZeros(numerator, denominator []float64) []float64 {
	n := len(numerator)
	if len(denominator) < n {
		n = len(denominator)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if denominator[i] != 0 {
			out[i] = numerator[i] / denominator[i]
		}
	}
	return out
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange lists every UTC day from start up to but excluding end.
func DateRange(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	var out []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// MapToDates looks every date up in values, using def where it is missing.
func MapToDates(values map[time.Time]float64, dates []time.Time, def float64) []float64 {
	out := make([]float64, len(dates))
	for i, d := range dates {
		if v, ok := values[d]; ok {
			out[i] = v
		} else {
			out[i] = def
		}
	}
	return out
}
