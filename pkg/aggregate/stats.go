package aggregate

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptySample is returned when statistics are requested for no points.
var ErrEmptySample = errors.New("cannot describe an empty sample")

// DefaultOutlierThreshold is the modified z-score above which a point counts as an outlier.
const DefaultOutlierThreshold = 3.5

// Statistics summarises a numeric sample.
type Statistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	IQR    float64 `json:"iqr"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// Describe computes Statistics for points. StdDev is the sample standard deviation and is 0
// for a single point. Percentiles interpolate linearly between order statistics.
func Describe(points []float64) (Statistics, error) {
	if len(points) == 0 {
		return Statistics{}, ErrEmptySample
	}
	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var stddev float64
	if len(sorted) > 1 {
		ss := 0.0
		for _, v := range sorted {
			ss += (v - mean) * (v - mean)
		}
		stddev = math.Sqrt(ss / float64(len(sorted)-1))
	}

	q25 := percentile(sorted, 25)
	q75 := percentile(sorted, 75)
	return Statistics{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: stddev,
		Median: percentile(sorted, 50),
		IQR:    q75 - q25,
		Q25:    q25,
		Q75:    q75,
	}, nil
}

// percentile expects sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func median(points []float64) float64 {
	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)
	return percentile(sorted, 50)
}

// RemoveOutliers drops points whose modified z-score 0.6745·|x - median| / MAD exceeds
// threshold. When the MAD is zero every point that differs from the median is dropped.
// A threshold of 0 or less means DefaultOutlierThreshold. The input is not modified and order
// is kept.
func RemoveOutliers(points []float64, threshold float64) []float64 {
	if len(points) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	med := median(points)
	diff := make([]float64, len(points))
	for i, v := range points {
		diff[i] = math.Abs(v - med)
	}
	mad := median(diff)

	out := make([]float64, 0, len(points))
	for i, v := range points {
		if mad == 0 {
			if diff[i] == 0 {
				out = append(out, v)
			}
			continue
		}
		if 0.6745*diff[i]/mad <= threshold {
			out = append(out, v)
		}
	}
	return out
}
