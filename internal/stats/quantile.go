package stats

import (
	"math"
	"sort"
)

// QuantileTracker estimates a fixed grid of quantiles over a stream.
//
// Index i runs from 0 (the minimum) to NumQuantiles()+1 (the maximum);
// Probability(i) is i/(NumQuantiles()+1).
type QuantileTracker interface {
	Observe(x float64)
	Ready() bool
	NumQuantiles() int
	Quantile(i int) float64
	Probability(i int) float64
	ICDF(p float64) float64
	Min() float64
	Max() float64
	Median() float64
}

// Quantiles is the extended P-square estimator. It tracks min, max and q
// equidistant quantiles with 2q+3 markers: the q+2 quantile markers
// interleaved with q+1 midpoint markers that keep the estimate stable.
//
// The first 2q+3 samples fill the marker heights. Until then Ready reports
// false and every accessor returns NaN.
type Quantiles struct {
	q       int
	count   int
	heights []float64
	actual  []float64
	desired []float64
}

// NewQuantiles returns an estimator for q interior quantiles. q must be at
// least 1.
func NewQuantiles(q int) *Quantiles {
	if q < 1 {
		q = 1
	}
	markers := 2*q + 3

	e := &Quantiles{
		q:       q,
		heights: make([]float64, markers),
		actual:  make([]float64, markers),
		desired: make([]float64, markers),
	}

	for i := 0; i < markers; i++ {
		e.actual[i] = float64(i + 1)
		e.desired[i] = 1 + 2*float64(q+1)*e.increment(i)
	}

	return e
}

// increment is the desired position advance of marker i per sample.
func (e *Quantiles) increment(i int) float64 {
	return float64(i) / float64(2*(e.q+1))
}

func (e *Quantiles) markers() int {
	return len(e.heights)
}

// Observe incorporates a new sample x.
func (e *Quantiles) Observe(x float64) {
	n := e.markers()

	if e.count < n {
		e.heights[e.count] = x
		e.count++
		if e.count == n {
			sort.Float64s(e.heights)
		}
		return
	}
	e.count++

	// Find cell k such that heights[k-1] <= x < heights[k], extending the
	// extremes when x falls outside them.
	var cell int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
		cell = 1
	case x >= e.heights[n-1]:
		e.heights[n-1] = x
		cell = n - 1
	default:
		cell = sort.Search(n, func(i int) bool { return e.heights[i] > x })
	}

	for i := cell; i < n; i++ {
		e.actual[i]++
	}
	for i := 0; i < n; i++ {
		e.desired[i] += e.increment(i)
	}

	for i := 1; i <= n-2; i++ {
		d := e.desired[i] - e.actual[i]
		dp := e.actual[i+1] - e.actual[i]
		dm := e.actual[i-1] - e.actual[i]

		hp := (e.heights[i+1] - e.heights[i]) / dp
		hm := (e.heights[i-1] - e.heights[i]) / dm

		if (d >= 1 && dp > 1) || (d <= -1 && dm < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}

			h := e.heights[i] + sign/(dp-dm)*((sign-dm)*hp+(dp-sign)*hm)

			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else if d > 0 {
				e.heights[i] += hp
			} else {
				e.heights[i] -= hm
			}
			e.actual[i] += sign
		}
	}
}

// Count returns the number of samples observed.
func (e *Quantiles) Count() int {
	return e.count
}

// Ready reports whether the fill phase is complete.
func (e *Quantiles) Ready() bool {
	return e.count >= e.markers()
}

// NumQuantiles returns q.
func (e *Quantiles) NumQuantiles() int {
	return e.q
}

// Quantile returns the height of quantile marker i, 0 <= i <= q+1.
func (e *Quantiles) Quantile(i int) float64 {
	if !e.Ready() || i < 0 || i > e.q+1 {
		return math.NaN()
	}
	return e.heights[2*i]
}

// Probability returns i/(q+1).
func (e *Quantiles) Probability(i int) float64 {
	return probability(i, e.q)
}

// ICDF returns the tracked quantile nearest below p.
func (e *Quantiles) ICDF(p float64) float64 {
	return e.Quantile(icdfIndex(p, e.q))
}

// Min returns the smallest sample observed after the fill phase.
func (e *Quantiles) Min() float64 {
	return e.Quantile(0)
}

// Max returns the largest sample observed after the fill phase.
func (e *Quantiles) Max() float64 {
	return e.Quantile(e.q + 1)
}

// Median returns ICDF(0.5).
func (e *Quantiles) Median() float64 {
	return e.ICDF(0.5)
}

func probability(i, q int) float64 {
	return float64(i) / float64(q+1)
}

func icdfIndex(p float64, q int) int {
	if math.IsNaN(p) {
		return -1
	}
	return int(p * float64(q+1))
}
