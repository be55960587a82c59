package indicator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(cfg Config) *Engine {
	return NewEngine(cfg, zerolog.Nop())
}

func TestEngineColdStartIsNeutral(t *testing.T) {
	e := testEngine(DefaultConfig())
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	snap := e.Update("BTC", 50_000, ts)
	assert.False(t, snap.Warm)
	assert.Equal(t, 50.0, snap.RSI)
	assert.Equal(t, 50_000.0, snap.BBUpper)
	assert.Equal(t, 50_000.0, snap.BBLower)
	assert.Equal(t, 50_000.0, snap.BBMiddle)
}

func TestEngineWarmsAfterLookbackFills(t *testing.T) {
	cfg := Config{RSIPeriod: 3, BBPeriod: 4, BBStdDev: 2, ReversalLookback: 2, LevelLookback: 4}
	e := testEngine(cfg)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var snap Snapshot
	price := 100.0
	for i := 0; i < 6; i++ {
		price += 1
		snap = e.Update("ETH", price, ts.Add(time.Duration(i)*5*time.Minute))
	}

	require.True(t, snap.Warm)
	assert.Greater(t, snap.RSI, 50.0, "steadily rising prices are not oversold")
	assert.Greater(t, snap.BBUpper, snap.BBMiddle)
	assert.Less(t, snap.BBLower, snap.BBMiddle)
	assert.Equal(t, snap.Resistance, price)
}

func TestEngineSeriesIsBounded(t *testing.T) {
	cfg := Config{RSIPeriod: 3, BBPeriod: 4, BBStdDev: 2, ReversalLookback: 2, LevelLookback: 4}
	e := testEngine(cfg)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		e.Update("BTC", 100+float64(i%7), ts.Add(time.Duration(i)*time.Minute))
	}
	assert.LessOrEqual(t, e.Series("BTC").Len(), 16, "series must evict old samples")
}

func TestEnginePerAssetIsolation(t *testing.T) {
	e := testEngine(DefaultConfig())
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e.Update("BTC", 50_000, ts)
	e.Update("ETH", 3_000, ts)

	assert.Equal(t, 1, e.Series("BTC").Len())
	assert.Equal(t, 1, e.Series("ETH").Len())

	btcLast, _ := e.Series("BTC").Last()
	assert.Equal(t, 50_000.0, btcLast)
}
