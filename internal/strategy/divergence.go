package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/indicator"
)

// LevelSource decides whether a price sits at a meaningful support or
// resistance level. The default uses the rolling min/max carried in the
// snapshot; alternative implementations can plug in richer level models.
type LevelSource interface {
	AtSupport(snap indicator.Snapshot, price float64) bool
	AtResistance(snap indicator.Snapshot, price float64) bool
}

// ProximityLevels treats a price within Proximity (fractional, e.g. 0.005)
// of the snapshot's rolling support/resistance as "at" the level.
type ProximityLevels struct {
	Proximity float64
}

func (p ProximityLevels) AtSupport(snap indicator.Snapshot, price float64) bool {
	if price <= 0 || snap.Support <= 0 {
		return false
	}
	diff := price - snap.Support
	if diff < 0 {
		diff = -diff
	}
	return diff/price < p.Proximity
}

func (p ProximityLevels) AtResistance(snap indicator.Snapshot, price float64) bool {
	if price <= 0 || snap.Resistance <= 0 {
		return false
	}
	diff := price - snap.Resistance
	if diff < 0 {
		diff = -diff
	}
	return diff/price < p.Proximity
}

// Params are the divergence strategy thresholds.
type Params struct {
	RSIOversold         float64 // enter UP territory below this
	RSIOverbought       float64 // enter DOWN territory above this
	DivergenceThreshold float64 // percentage points of prob mispricing required
	ProbSensitivity     float64 // prob points implied per 1% spot move
	BandProximity       float64 // fractional distance from a Bollinger band
}

// DefaultParams returns the swing thresholds the strategy was tuned with.
func DefaultParams() Params {
	return Params{
		RSIOversold:         30,
		RSIOverbought:       70,
		DivergenceThreshold: 10,
		ProbSensitivity:     10,
		BandProximity:       0.002,
	}
}

// Detector compares spot-derived technical state against the market-implied
// probability and emits a directional signal. Detect is a pure function of
// its inputs: the detector holds configuration and a logger, no market state.
type Detector struct {
	params Params
	levels LevelSource
	log    zerolog.Logger
}

func NewDetector(params Params, levels LevelSource, log zerolog.Logger) *Detector {
	if levels == nil {
		levels = ProximityLevels{Proximity: 0.005}
	}
	return &Detector{
		params: params,
		levels: levels,
		log:    log.With().Str("component", "divergence").Logger(),
	}
}

// ImpliedProbability converts a short-horizon spot change into the up-side
// probability the move would justify, in percent. A 0.3% move with
// sensitivity 10 reads as 53%.
func (d *Detector) ImpliedProbability(spotChangePct float64) float64 {
	p := 50 + spotChangePct*d.params.ProbSensitivity
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Divergence is the gap, in percentage points, between the technically
// justified up-probability and the market's implied one. Positive means the
// market underprices the up outcome.
func (d *Detector) Divergence(spotChangePct, impliedUpProb float64) float64 {
	return d.ImpliedProbability(spotChangePct) - impliedUpProb*100
}

// Detect evaluates one asset's technical snapshot against the market quote.
// It never returns an error: a no-trade outcome is the None signal.
func (d *Detector) Detect(snap indicator.Snapshot, quote exchange.MarketQuote, spotChangePct float64) Signal {
	sig := Signal{
		Asset:     snap.Asset,
		Direction: None,
		Price:     snap.Price,
		Time:      snap.Time,
	}
	if !snap.Warm {
		sig.Reason = "warming up"
		return sig
	}

	divergence := d.Divergence(spotChangePct, quote.ImpliedUpProb)
	sig.Divergence = divergence

	up, upConf, upReason := d.upCondition(snap, divergence)
	down, downConf, downReason := d.downCondition(snap, divergence)

	if up && down {
		// Contradictory read; both sides can never be right at once.
		d.log.Warn().Str("asset", snap.Asset).Float64("rsi", snap.RSI).
			Float64("divergence", divergence).Msg("contradictory UP and DOWN conditions, emitting NONE")
		sig.Reason = "contradictory conditions"
		return sig
	}

	switch {
	case up:
		sig.Direction = Up
		sig.Confidence = upConf
		sig.Reason = upReason
	case down:
		sig.Direction = Down
		sig.Confidence = downConf
		sig.Reason = downReason
	default:
		sig.Reason = "no divergence setup"
	}
	return sig
}

// upCondition: oversold RSI, price pinned to the lower band / support, and a
// market that underprices the up outcome by more than the threshold.
func (d *Detector) upCondition(snap indicator.Snapshot, divergence float64) (bool, float64, string) {
	if snap.RSI >= d.params.RSIOversold {
		return false, 0, ""
	}
	if divergence <= d.params.DivergenceThreshold {
		return false, 0, ""
	}
	switch {
	case snap.BullishReversal:
		return true, 0.9, fmt.Sprintf("RSI=%.1f + BB lower reversal + divergence=%.1f%%", snap.RSI, divergence)
	case nearBand(snap.Price, snap.BBLower, d.params.BandProximity):
		return true, 0.85, fmt.Sprintf("RSI=%.1f + at BB lower + divergence=%.1f%%", snap.RSI, divergence)
	case d.levels.AtSupport(snap, snap.Price):
		return true, 0.8, fmt.Sprintf("RSI=%.1f + at support %.2f + divergence=%.1f%%", snap.RSI, snap.Support, divergence)
	}
	return false, 0, ""
}

// downCondition mirrors upCondition against the upper band / resistance and
// an overpriced up outcome.
func (d *Detector) downCondition(snap indicator.Snapshot, divergence float64) (bool, float64, string) {
	if snap.RSI <= d.params.RSIOverbought {
		return false, 0, ""
	}
	if divergence >= -d.params.DivergenceThreshold {
		return false, 0, ""
	}
	switch {
	case snap.BearishReversal:
		return true, 0.9, fmt.Sprintf("RSI=%.1f + BB upper reversal + divergence=%.1f%%", snap.RSI, divergence)
	case nearBand(snap.Price, snap.BBUpper, d.params.BandProximity):
		return true, 0.85, fmt.Sprintf("RSI=%.1f + at BB upper + divergence=%.1f%%", snap.RSI, divergence)
	case d.levels.AtResistance(snap, snap.Price):
		return true, 0.8, fmt.Sprintf("RSI=%.1f + at resistance %.2f + divergence=%.1f%%", snap.RSI, snap.Resistance, divergence)
	}
	return false, 0, ""
}

func nearBand(price, band, proximity float64) bool {
	if price <= 0 || band <= 0 {
		return false
	}
	diff := price - band
	if diff < 0 {
		diff = -diff
	}
	return diff/price <= proximity
}
