package indicator

import "math"

// Bands holds one Bollinger Bands reading.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollinger computes the most recent Bollinger Bands value: a simple
// moving average over the last period samples, shifted by stdDev sample
// standard deviations.
func CalculateBollinger(prices []float64, period int, stdDev float64) (Bands, error) {
	if period <= 1 || len(prices) < period {
		return Bands{}, ErrInsufficientData
	}
	window := prices[len(prices)-period:]

	var sum float64
	for _, p := range window {
		sum += p
	}
	mean := sum / float64(period)

	var variance float64
	for _, p := range window {
		d := p - mean
		variance += d * d
	}
	variance /= float64(period - 1)
	sd := math.Sqrt(variance)

	return Bands{
		Upper:  mean + stdDev*sd,
		Middle: mean,
		Lower:  mean - stdDev*sd,
	}, nil
}

// BollingerSeries computes rolling Bollinger Bands for every index. Entries
// before the window fills are NaN, matching the RSI warmup convention.
func BollingerSeries(prices []float64, period int, stdDev float64) []Bands {
	if period <= 1 || len(prices) < period {
		return nil
	}
	out := make([]Bands, len(prices))
	nan := Bands{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()}
	for i := 0; i < period-1; i++ {
		out[i] = nan
	}
	for i := period - 1; i < len(prices); i++ {
		b, err := CalculateBollinger(prices[:i+1], period, stdDev)
		if err != nil {
			out[i] = nan
			continue
		}
		out[i] = b
	}
	return out
}

// DetectLowerReversal reports a bullish band reversal: one of the last
// lookback closes pierced below the lower band and the current close is back
// above it.
func DetectLowerReversal(prices []float64, bands []Bands, lookback int) bool {
	n := len(prices)
	if n != len(bands) || n < lookback+1 {
		return false
	}
	touched := false
	for i := n - 1 - lookback; i < n-1; i++ {
		if !math.IsNaN(bands[i].Lower) && prices[i] < bands[i].Lower {
			touched = true
			break
		}
	}
	last := bands[n-1]
	return touched && !math.IsNaN(last.Lower) && prices[n-1] > last.Lower
}

// DetectUpperReversal reports a bearish band reversal: a recent close pierced
// above the upper band and the current close is back below it.
func DetectUpperReversal(prices []float64, bands []Bands, lookback int) bool {
	n := len(prices)
	if n != len(bands) || n < lookback+1 {
		return false
	}
	touched := false
	for i := n - 1 - lookback; i < n-1; i++ {
		if !math.IsNaN(bands[i].Upper) && prices[i] > bands[i].Upper {
			touched = true
			break
		}
	}
	last := bands[n-1]
	return touched && !math.IsNaN(last.Upper) && prices[n-1] < last.Upper
}

// SupportResistance derives naive support and resistance levels from the
// recent lows and highs of the close series. Before the lookback fills it
// falls back to a 1% envelope around the last price.
func SupportResistance(prices []float64, lookback int) (support, resistance float64) {
	n := len(prices)
	if n == 0 {
		return 0, 0
	}
	if lookback <= 0 || n < lookback {
		last := prices[n-1]
		return last * 0.99, last * 1.01
	}
	window := prices[n-lookback:]
	support, resistance = window[0], window[0]
	for _, p := range window[1:] {
		if p < support {
			support = p
		}
		if p > resistance {
			resistance = p
		}
	}
	return support, resistance
}
