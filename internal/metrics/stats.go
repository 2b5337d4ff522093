package metrics

import (
	"math"
	"sort"

	"github.com/t77yq/watchtower/internal/model"
)

// Percentile returns the nearest-rank percentile of an ascending-sorted
// sample. The rank index is ceil(p/100*n)-1 clamped to [0, n-1]; the value
// at that index is returned without interpolation.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	index := int(math.Ceil(p/100*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

// CalculateStatistics summarizes a numeric sample. Empty input yields
// all-zero statistics rather than an error.
func CalculateStatistics(values []float64) model.Statistics {
	if len(values) == 0 {
		return model.Statistics{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	// Population variance over the computed mean
	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}
	stdDev := math.Sqrt(sqDiff / float64(len(sorted)))

	return model.Statistics{
		Count:  len(sorted),
		Sum:    sum,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean,
		Median: Percentile(sorted, 50),
		StdDev: stdDev,
		P95:    Percentile(sorted, 95),
		P99:    Percentile(sorted, 99),
	}
}

func aggregate(values []float64, agg model.Aggregation) float64 {
	if len(values) == 0 {
		return 0
	}

	switch agg {
	case model.AggregationSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case model.AggregationAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case model.AggregationMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case model.AggregationMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case model.AggregationCount:
		return float64(len(values))
	case model.AggregationP50, model.AggregationP90, model.AggregationP95, model.AggregationP99:
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		return Percentile(sorted, percentileTarget(agg))
	default:
		return 0
	}
}

func percentileTarget(agg model.Aggregation) float64 {
	switch agg {
	case model.AggregationP50:
		return 50
	case model.AggregationP90:
		return 90
	case model.AggregationP95:
		return 95
	case model.AggregationP99:
		return 99
	default:
		return 0
	}
}
