package stats

// Bin is one equal-width interval of a density estimate.
type Bin struct {
	Lower float64
	Upper float64
	Mass  float64
}

// Density derives a probability mass per equal-width bin between the
// tracker's min and max. The CDF is linear between consecutive tracked
// quantiles, so the masses sum to 1.
//
// Returns nil when the tracker is not ready or bins < 1. A degenerate
// range (min == max) puts all mass into a single bin.
func Density(t QuantileTracker, bins int) []Bin {
	if t == nil || !t.Ready() || bins < 1 {
		return nil
	}

	lo, hi := t.Min(), t.Max()
	if !(hi > lo) {
		return []Bin{{Lower: lo, Upper: hi, Mass: 1}}
	}

	n := t.NumQuantiles() + 2
	heights := make([]float64, n)
	probs := make([]float64, n)
	for i := 0; i < n; i++ {
		heights[i] = t.Quantile(i)
		probs[i] = t.Probability(i)
	}

	cdf := func(x float64) float64 {
		if x <= heights[0] {
			return 0
		}
		if x >= heights[n-1] {
			return 1
		}
		k := 0
		for k+1 < n && heights[k+1] <= x {
			k++
		}
		width := heights[k+1] - heights[k]
		if width <= 0 {
			return probs[k]
		}
		return probs[k] + (x-heights[k])/width*(probs[k+1]-probs[k])
	}

	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	prev := 0.0
	for j := 0; j < bins; j++ {
		lower := lo + float64(j)*width
		upper := lo + float64(j+1)*width
		c := 1.0
		if j < bins-1 {
			c = cdf(upper)
		}
		out[j] = Bin{Lower: lower, Upper: upper, Mass: c - prev}
		prev = c
	}
	out[bins-1].Upper = hi
	return out
}
