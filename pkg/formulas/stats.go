package formulas

import "gonum.org/v1/gonum/stat"

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev returns the sample standard deviation, or 0 for an empty slice.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Returns converts a price series to percentage returns:
// Returns[i] = (Price[i+1] - Price[i]) / Price[i].
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// Correlation returns the Pearson correlation coefficient between two
// equal-length series, or 0 if they are empty or mismatched in length.
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// WeightedMean returns the weighted arithmetic mean of values against
// weights of matching length, used by the Aggregator's confidence-weighted
// contributor price.
func WeightedMean(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	return stat.Mean(values, weights)
}
