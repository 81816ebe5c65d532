package formulas

import "github.com/markcheno/go-talib"

// BollingerBands is one snapshot of the upper/middle/lower band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerPosition is where the last close sits within its Bollinger
// Bands: 0.0 at the lower band, 1.0 at the upper band.
type BollingerPosition struct {
	Position float64
	Bands    BollingerBands
}

// Bollinger computes Bollinger Bands over length periods at stdDevMult
// standard deviations, or nil if there is not enough history.
func Bollinger(closes []float64, length int, stdDevMult float64) *BollingerBands {
	if len(closes) < length {
		return nil
	}
	upper, middle, lower := talib.BBands(closes, length, stdDevMult, stdDevMult, 0)
	if len(upper) == 0 || isNaN(upper[len(upper)-1]) {
		return nil
	}
	return &BollingerBands{
		Upper:  upper[len(upper)-1],
		Middle: middle[len(middle)-1],
		Lower:  lower[len(lower)-1],
	}
}

// BollingerPositionOf locates the last close within its own Bollinger
// Bands, clamped to [0, 1] (price may trade outside the bands).
func BollingerPositionOf(closes []float64, length int, stdDevMult float64) *BollingerPosition {
	if len(closes) == 0 {
		return nil
	}
	bands := Bollinger(closes, length, stdDevMult)
	if bands == nil {
		return nil
	}
	price := closes[len(closes)-1]
	width := bands.Upper - bands.Lower
	if width == 0 {
		return &BollingerPosition{Position: 0.5, Bands: *bands}
	}
	pos := (price - bands.Lower) / width
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return &BollingerPosition{Position: pos, Bands: *bands}
}
