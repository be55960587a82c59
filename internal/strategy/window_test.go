package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/amirphl/polyswing/internal/exchange"
)

func TestGateAdmitWindow(t *testing.T) {
	gate := DefaultGate()
	open := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	close := open.Add(15 * time.Minute)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"before open", -time.Minute, false},
		{"minute 1 is too early", time.Minute, false},
		{"minute 2 opens the window", 2 * time.Minute, true},
		{"minute 5 admits", 5 * time.Minute, true},
		{"minute 12 closes the window", 12 * time.Minute, true},
		{"minute 13 is too late", 13 * time.Minute, false},
		{"after close", 16 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Admit(open, close, open.Add(tt.elapsed)))
		})
	}
}

func TestGateScalesWithContractDuration(t *testing.T) {
	gate := DefaultGate()
	open := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	close := open.Add(30 * time.Minute)

	// The same fractional window covers minutes 4..24 of a 30-minute contract.
	assert.False(t, gate.Admit(open, close, open.Add(3*time.Minute)))
	assert.True(t, gate.Admit(open, close, open.Add(10*time.Minute)))
	assert.False(t, gate.Admit(open, close, open.Add(25*time.Minute)))
}

func TestGateRejectsDegenerateContract(t *testing.T) {
	gate := DefaultGate()
	open := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, gate.Admit(open, open, open))
	assert.False(t, gate.Admit(open, open.Add(-time.Minute), open))
}

func TestDetectContradictoryConditionsEmitNone(t *testing.T) {
	// Inverted thresholds make both sides fire at once; the detector must
	// refuse to pick one.
	params := DefaultParams()
	params.RSIOversold = 80
	params.RSIOverbought = 20
	params.DivergenceThreshold = -100 // any divergence passes both checks
	d := NewDetector(params, nil, zerolog.Nop())

	snap := warmSnapshot("BTC", 50, 50_000, 50_000, 50_000)
	sig := d.Detect(snap, exchange.MarketQuote{ImpliedUpProb: 0.5}, 0)
	assert.Equal(t, None, sig.Direction)
	assert.Equal(t, "contradictory conditions", sig.Reason)
}
