package indicator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/candle"
)

// Config controls the indicator lookbacks.
type Config struct {
	RSIPeriod        int
	BBPeriod         int
	BBStdDev         float64
	ReversalLookback int
	LevelLookback    int
}

// DefaultConfig returns the lookbacks the swing strategy was tuned with.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:        14,
		BBPeriod:         20,
		BBStdDev:         2,
		ReversalLookback: 3,
		LevelLookback:    20,
	}
}

// Snapshot is the derived technical state for one asset at one tick. It is
// recomputed on every update and never persisted.
type Snapshot struct {
	Asset           string
	Price           float64
	Time            time.Time
	RSI             float64
	BBUpper         float64
	BBMiddle        float64
	BBLower         float64
	Support         float64
	Resistance      float64
	BullishReversal bool
	BearishReversal bool
	// Warm is false until every lookback window has filled. Cold snapshots
	// report a neutral RSI of 50 and bands collapsed onto the price so that
	// no divergence condition can trigger on them.
	Warm bool
}

// Engine owns one bounded price series per asset and turns price updates into
// indicator snapshots. Single writer: the trading loop.
type Engine struct {
	cfg    Config
	series map[string]*candle.Series
	log    zerolog.Logger
}

func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		series: make(map[string]*candle.Series),
		log:    log.With().Str("component", "indicator").Logger(),
	}
}

// warmupLen is the minimum series length for a fully warm snapshot.
func (e *Engine) warmupLen() int {
	n := e.cfg.RSIPeriod + 1
	if e.cfg.BBPeriod > n {
		n = e.cfg.BBPeriod
	}
	return n
}

// Series returns the price series for an asset, creating it on first use.
func (e *Engine) Series(asset string) *candle.Series {
	s, ok := e.series[asset]
	if !ok {
		s = candle.NewSeries(asset, e.warmupLen()*4)
		e.series[asset] = s
	}
	return s
}

// Update appends a price sample for the asset and recomputes the snapshot.
// During cold start it returns the neutral snapshot instead of an error; the
// Warm flag tells callers whether the reading is tradable.
func (e *Engine) Update(asset string, price float64, ts time.Time) Snapshot {
	s := e.Series(asset)
	s.Append(price, ts)

	snap := Snapshot{
		Asset:    asset,
		Price:    price,
		Time:     ts,
		RSI:      50,
		BBUpper:  price,
		BBMiddle: price,
		BBLower:  price,
	}

	prices := s.Prices()
	if len(prices) < e.warmupLen() {
		e.log.Debug().Str("asset", asset).Int("samples", len(prices)).
			Int("needed", e.warmupLen()).Msg("indicator warming up")
		return snap
	}

	rsi, err := CalculateLastRSI(prices, e.cfg.RSIPeriod)
	if err != nil {
		return snap
	}
	bands, err := CalculateBollinger(prices, e.cfg.BBPeriod, e.cfg.BBStdDev)
	if err != nil {
		return snap
	}

	snap.RSI = rsi
	snap.BBUpper = bands.Upper
	snap.BBMiddle = bands.Middle
	snap.BBLower = bands.Lower
	snap.Support, snap.Resistance = SupportResistance(prices, e.cfg.LevelLookback)

	bandSeries := BollingerSeries(prices, e.cfg.BBPeriod, e.cfg.BBStdDev)
	snap.BullishReversal = DetectLowerReversal(prices, bandSeries, e.cfg.ReversalLookback)
	snap.BearishReversal = DetectUpperReversal(prices, bandSeries, e.cfg.ReversalLookback)
	snap.Warm = true
	return snap
}

// ChangePct exposes the short-horizon spot change for an asset, used by the
// divergence probability model.
func (e *Engine) ChangePct(asset string, lookback int) float64 {
	return e.Series(asset).ChangePct(lookback)
}
