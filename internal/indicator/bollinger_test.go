package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBollinger(t *testing.T) {
	_, err := CalculateBollinger([]float64{1, 2}, 5, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// Constant series: zero deviation, bands collapse onto the mean.
	b, err := CalculateBollinger([]float64{100, 100, 100, 100, 100}, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.Middle)
	assert.Equal(t, 100.0, b.Upper)
	assert.Equal(t, 100.0, b.Lower)

	// 1..5 has mean 3 and sample stddev sqrt(2.5).
	b, err = CalculateBollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	require.NoError(t, err)
	sd := math.Sqrt(2.5)
	assert.InDelta(t, 3, b.Middle, 1e-9)
	assert.InDelta(t, 3+2*sd, b.Upper, 1e-9)
	assert.InDelta(t, 3-2*sd, b.Lower, 1e-9)

	// Only the trailing window counts.
	b2, err := CalculateBollinger([]float64{500, 1, 2, 3, 4, 5}, 5, 2)
	require.NoError(t, err)
	assert.InDelta(t, b.Middle, b2.Middle, 1e-9)
}

func TestBollingerSeriesWarmup(t *testing.T) {
	bands := BollingerSeries([]float64{1, 2, 3, 4, 5}, 3, 2)
	require.Len(t, bands, 5)
	assert.True(t, math.IsNaN(bands[0].Middle))
	assert.True(t, math.IsNaN(bands[1].Middle))
	assert.False(t, math.IsNaN(bands[2].Middle))
}

func TestDetectLowerReversal(t *testing.T) {
	// A deep dip below the lower band followed by a close back above it.
	prices := []float64{100, 100, 100, 80, 100}
	bands := BollingerSeries(prices, 3, 1)
	require.NotNil(t, bands)

	assert.True(t, DetectLowerReversal(prices, bands, 3))
	assert.False(t, DetectUpperReversal(prices, bands, 3))

	// No dip, no reversal.
	flat := []float64{100, 100, 100, 100, 100}
	flatBands := BollingerSeries(flat, 3, 1)
	assert.False(t, DetectLowerReversal(flat, flatBands, 3))
}

func TestDetectUpperReversal(t *testing.T) {
	prices := []float64{100, 100, 100, 120, 100}
	bands := BollingerSeries(prices, 3, 1)
	require.NotNil(t, bands)

	assert.True(t, DetectUpperReversal(prices, bands, 3))
	assert.False(t, DetectLowerReversal(prices, bands, 3))
}

func TestSupportResistance(t *testing.T) {
	support, resistance := SupportResistance([]float64{105, 95, 100, 110, 98}, 5)
	assert.Equal(t, 95.0, support)
	assert.Equal(t, 110.0, resistance)

	// Falls back to a 1% envelope before the lookback fills.
	support, resistance = SupportResistance([]float64{200}, 5)
	assert.InDelta(t, 198, support, 1e-9)
	assert.InDelta(t, 202, resistance, 1e-9)
}
