package stats

import (
	"fmt"
	"math"

	"github.com/xtxerr/storscope/internal/errors"
)

// Quantile backends.
const (
	BackendP2       = "p2"
	BackendDDSketch = "ddsketch"
)

// Options selects how a Summary tracks quantiles.
type Options struct {
	// Quantiles is the number of interior quantiles.
	Quantiles int

	// Backend is BackendP2 or BackendDDSketch. Empty means BackendP2.
	Backend string

	// Accuracy is the DDSketch relative accuracy.
	Accuracy float64

	// DensityBins is the number of equal-width density bins reported per
	// summary. Zero reports none.
	DensityBins int
}

// DefaultOptions returns 99 P-square quantiles.
func DefaultOptions() Options {
	return Options{
		Quantiles: 99,
		Backend:   BackendP2,
		Accuracy:  0.01,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Quantiles < 1 {
		return errors.NewInvalidValue("quantiles", o.Quantiles, "must be at least 1")
	}
	if o.DensityBins < 0 {
		return errors.NewInvalidValue("density bins", o.DensityBins, "must not be negative")
	}
	switch o.Backend {
	case BackendP2, "":
	case BackendDDSketch:
		if o.Accuracy <= 0 || o.Accuracy >= 1 {
			return errors.NewInvalidValue("sketch accuracy", o.Accuracy, "must be between 0 and 1")
		}
	default:
		return errors.NewInvalidValue("quantile backend", o.Backend, "must be p2 or ddsketch")
	}
	return nil
}

// NewTracker builds the quantile tracker selected by o.
func (o Options) NewTracker() (QuantileTracker, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Backend == BackendDDSketch {
		return NewSketchQuantiles(o.Quantiles, o.Accuracy)
	}
	return NewQuantiles(o.Quantiles), nil
}

// Summary combines a Running estimator with a quantile tracker.
type Summary struct {
	Running
	quantiles QuantileTracker
	bins      int

	// gridLost is set once P-square markers absorbed another summary.
	// Markers cannot be merged, so the grid no longer describes the data.
	gridLost bool
}

// NewSummary creates a Summary for the given options.
func NewSummary(opts Options) (*Summary, error) {
	q, err := opts.NewTracker()
	if err != nil {
		return nil, err
	}
	return &Summary{quantiles: q, bins: opts.DensityBins}, nil
}

// MustSummary is NewSummary for options already validated by the caller.
func MustSummary(opts Options) *Summary {
	s, err := NewSummary(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Observe feeds x to both estimators.
func (s *Summary) Observe(x float64) {
	s.Running.Observe(x)
	s.quantiles.Observe(x)
}

// Merge folds other into s as if s had observed every sample of other.
// The moments always merge exactly. DDSketch grids merge within their
// accuracy; a P-square summary drops its grid instead.
func (s *Summary) Merge(other *Summary) error {
	if other == nil || other.Count() == 0 {
		return nil
	}

	switch q := s.quantiles.(type) {
	case *SketchQuantiles:
		o, ok := other.quantiles.(*SketchQuantiles)
		if !ok {
			return errors.NewUnsupported("merging a p2 summary into", BackendDDSketch)
		}
		if err := q.Merge(o); err != nil {
			return fmt.Errorf("merge sketch: %w", err)
		}
	default:
		s.gridLost = true
	}

	s.Running.Merge(&other.Running)
	return nil
}

// Quantiles returns the quantile tracker.
func (s *Summary) Quantiles() QuantileTracker {
	return s.quantiles
}

// QuantilesReady reports whether the quantile grid can be read.
func (s *Summary) QuantilesReady() bool {
	return !s.gridLost && s.quantiles.Ready()
}

// ICDF returns the tracked quantile nearest below p.
func (s *Summary) ICDF(p float64) float64 {
	if s.gridLost {
		return math.NaN()
	}
	return s.quantiles.ICDF(p)
}

// Median returns the estimated median.
func (s *Summary) Median() float64 {
	if s.gridLost {
		return math.NaN()
	}
	return s.quantiles.Median()
}

// Density returns the configured number of density bins, or nil while the
// grid cannot be read.
func (s *Summary) Density() []Bin {
	if !s.QuantilesReady() {
		return nil
	}
	return Density(s.quantiles, s.bins)
}

// Percentiles returns the quantile grid keyed by probability, or nil while
// the tracker is still filling.
func (s *Summary) Percentiles() map[float64]float64 {
	if !s.QuantilesReady() {
		return nil
	}
	n := s.quantiles.NumQuantiles()
	out := make(map[float64]float64, n)
	for i := 1; i <= n; i++ {
		v := s.quantiles.Quantile(i)
		if !math.IsNaN(v) {
			out[s.quantiles.Probability(i)] = v
		}
	}
	return out
}
