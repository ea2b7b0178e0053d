// Package stats provides online estimators over unbounded sample streams.
//
// Nothing in this package buffers samples. Running keeps count, mean,
// variance and extremes in constant space, Quantiles tracks a fixed grid of
// quantiles with the extended P-square algorithm, and SketchQuantiles offers
// the same grid backed by a mergeable DDSketch.
//
// Estimators are not safe for concurrent use. Each analysis owns its own.
package stats

import "math"

// Running maintains count, mean, variance, min and max using Welford's
// algorithm.
//
// The zero value is ready to use. Mean, Variance, Min and Max are NaN until
// the first sample is observed.
type Running struct {
	count uint64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// Observe incorporates a new sample x.
func (r *Running) Observe(x float64) {
	if r.count == 0 {
		r.min = x
		r.max = x
	} else {
		if x < r.min {
			r.min = x
		}
		if x > r.max {
			r.max = x
		}
	}

	r.count++
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (x - r.mean)
}

// Merge folds other into r as if every sample of other had been observed
// by r.
func (r *Running) Merge(other *Running) {
	if other == nil || other.count == 0 {
		return
	}
	if r.count == 0 {
		*r = *other
		return
	}

	n := float64(r.count + other.count)
	delta := other.mean - r.mean
	r.m2 += other.m2 + delta*delta*float64(r.count)*float64(other.count)/n
	r.mean += delta * float64(other.count) / n
	r.count += other.count

	if other.min < r.min {
		r.min = other.min
	}
	if other.max > r.max {
		r.max = other.max
	}
}

// Count returns the number of samples observed.
func (r *Running) Count() uint64 {
	return r.count
}

// Mean returns the running mean.
func (r *Running) Mean() float64 {
	if r.count == 0 {
		return math.NaN()
	}
	return r.mean
}

// Variance returns the population variance m2/count.
func (r *Running) Variance() float64 {
	if r.count == 0 {
		return math.NaN()
	}
	return r.m2 / float64(r.count)
}

// SampleVariance returns m2/(count-1). NaN for fewer than 2 samples.
func (r *Running) SampleVariance() float64 {
	if r.count < 2 {
		return math.NaN()
	}
	return r.m2 / float64(r.count-1)
}

// Stddev returns the square root of Variance.
func (r *Running) Stddev() float64 {
	return math.Sqrt(r.Variance())
}

// Min returns the smallest sample observed.
func (r *Running) Min() float64 {
	if r.count == 0 {
		return math.NaN()
	}
	return r.min
}

// Max returns the largest sample observed.
func (r *Running) Max() float64 {
	if r.count == 0 {
		return math.NaN()
	}
	return r.max
}
