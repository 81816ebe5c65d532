package strategy

import "github.com/sqryxz/mts-pipeline/internal/domain"

// closes extracts the Close price from every OHLCV observation in obs, in
// timestamp order (obs is expected pre-sorted by the Store/Runner).
func closes(obs []domain.Observation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.OHLCV != nil {
			out = append(out, o.OHLCV.Close)
		}
	}
	return out
}

// macroValues extracts the scalar Value from every macro observation in obs.
func macroValues(obs []domain.Observation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.Macro != nil {
			out = append(out, o.Macro.Value)
		}
	}
	return out
}

// alignTail trims two series to the same length by dropping from the
// front of whichever is longer, so paired-index comparisons (correlation,
// covariance) line up on the same trailing window.
func alignTail(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
