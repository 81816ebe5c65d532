// Package formulas holds the pure numeric building blocks strategies
// compose from — no I/O, no state, just price-series math — grounded on
// the teacher's pkg/formulas indicator ports.
package formulas

import "github.com/markcheno/go-talib"

// RSI returns the last Relative Strength Index value over length periods,
// or nil if there is not enough history to compute one.
func RSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	series := talib.Rsi(closes, length)
	if len(series) == 0 || isNaN(series[len(series)-1]) {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

func isNaN(f float64) bool { return f != f }
