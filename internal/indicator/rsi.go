package indicator

import "math"

// CalculateRSI computes the Relative Strength Index over the whole series
// using Wilder smoothing. The first period-1 elements are NaN (invalid).
func CalculateRSI(prices []float64, period int) []float64 {
	if len(prices) < period || period <= 0 {
		return nil
	}
	rsi := make([]float64, len(prices))
	for i := 0; i < period-1; i++ {
		rsi[i] = math.NaN()
	}
	var gain, loss float64
	for i := 1; i < period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss += -change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rsi[period-1] = rsiFromAverages(avgGain, avgLoss)
	for i := period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain = change
			loss = 0
		} else {
			gain = 0
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return rsi
}

// CalculateLastRSI computes only the most recent RSI value. It walks the same
// Wilder recursion as CalculateRSI without allocating the full output slice.
func CalculateLastRSI(prices []float64, period int) (float64, error) {
	if period <= 0 || len(prices) < period+1 {
		return 0, ErrInsufficientData
	}
	var gain, loss float64
	for i := 1; i < period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss += -change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain = change
			loss = 0
		} else {
			gain = 0
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	return rsiFromAverages(avgGain, avgLoss), nil
}

// rsiFromAverages maps smoothed gain/loss averages to the [0,100] RSI scale.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // flat series has no directional strength
		}
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return math.Max(0, math.Min(100, v))
}
