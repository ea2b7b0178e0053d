package stats

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// SketchQuantiles exposes the QuantileTracker grid on top of a DDSketch.
// Unlike Quantiles it is mergeable and guarantees a relative accuracy,
// at the cost of memory that grows with the logarithmic value range.
type SketchQuantiles struct {
	q        int
	accuracy float64
	sketch   *ddsketch.DDSketch

	// Extremes are exact; the sketch only knows them up to its accuracy.
	count uint64
	min   float64
	max   float64
}

// NewSketchQuantiles creates a tracker for q interior quantiles with the
// given relative accuracy (0.01 = 1% error).
func NewSketchQuantiles(q int, accuracy float64) (*SketchQuantiles, error) {
	if q < 1 {
		q = 1
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, err
	}

	return &SketchQuantiles{
		q:        q,
		accuracy: accuracy,
		sketch:   sketch,
	}, nil
}

// Observe adds a value to the sketch. Values the sketch cannot index
// (NaN, beyond its range) still update the count but not the quantiles.
func (s *SketchQuantiles) Observe(x float64) {
	if s.count == 0 || x < s.min {
		s.min = x
	}
	if s.count == 0 || x > s.max {
		s.max = x
	}
	s.count++

	_ = s.sketch.Add(x)
}

// Merge combines another tracker into this one.
func (s *SketchQuantiles) Merge(other *SketchQuantiles) error {
	if other == nil || other.count == 0 {
		return nil
	}

	if err := s.sketch.MergeWith(other.sketch); err != nil {
		return err
	}

	if s.count == 0 || other.min < s.min {
		s.min = other.min
	}
	if s.count == 0 || other.max > s.max {
		s.max = other.max
	}
	s.count += other.count
	return nil
}

// Ready reports whether at least one value was observed.
func (s *SketchQuantiles) Ready() bool {
	return s.count > 0 && !s.sketch.IsEmpty()
}

// NumQuantiles returns q.
func (s *SketchQuantiles) NumQuantiles() int {
	return s.q
}

// Quantile returns the estimate for grid index i, 0 <= i <= q+1.
func (s *SketchQuantiles) Quantile(i int) float64 {
	if !s.Ready() || i < 0 || i > s.q+1 {
		return math.NaN()
	}
	switch i {
	case 0:
		return s.min
	case s.q + 1:
		return s.max
	}

	v, err := s.sketch.GetValueAtQuantile(probability(i, s.q))
	if err != nil {
		return math.NaN()
	}
	// Keep the grid monotone and inside the exact extremes.
	return math.Min(math.Max(v, s.min), s.max)
}

// Probability returns i/(q+1).
func (s *SketchQuantiles) Probability(i int) float64 {
	return probability(i, s.q)
}

// ICDF returns the tracked quantile nearest below p.
func (s *SketchQuantiles) ICDF(p float64) float64 {
	return s.Quantile(icdfIndex(p, s.q))
}

// Min returns the exact minimum.
func (s *SketchQuantiles) Min() float64 {
	return s.Quantile(0)
}

// Max returns the exact maximum.
func (s *SketchQuantiles) Max() float64 {
	return s.Quantile(s.q + 1)
}

// Median returns ICDF(0.5).
func (s *SketchQuantiles) Median() float64 {
	return s.ICDF(0.5)
}
