package stats

import (
	"errors"
	"math"
	"sort"
	"time"

	"kpiwatch-backend/internal/kpi"
)

var errEmptySample = errors.New("empty sample")

// Summary is the descriptive statistics of one sample.
type Summary struct {
	Min         float64
	Max         float64
	Mean        float64
	Median      float64
	StdDev      float64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Count       int
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population standard deviation (divisor n).
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}

// Median averages the two middle values of an even-sized sample.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func Compute(points []kpi.Point) (Summary, error) {
	if len(points) == 0 {
		return Summary{}, errEmptySample
	}
	values := make([]float64, len(points))
	s := Summary{
		Min:         points[0].Value,
		Max:         points[0].Value,
		PeriodStart: points[0].Timestamp,
		PeriodEnd:   points[0].Timestamp,
		Count:       len(points),
	}
	for i, p := range points {
		values[i] = p.Value
		s.Min = math.Min(s.Min, p.Value)
		s.Max = math.Max(s.Max, p.Value)
		if p.Timestamp.Before(s.PeriodStart) {
			s.PeriodStart = p.Timestamp
		}
		if p.Timestamp.After(s.PeriodEnd) {
			s.PeriodEnd = p.Timestamp
		}
	}
	// Summation error can push the mean of a near-constant sample just outside [min, max].
	s.Mean = math.Max(s.Min, math.Min(s.Max, Mean(values)))
	s.Median = Median(values)
	s.StdDev = StdDev(values)
	return s, nil
}
