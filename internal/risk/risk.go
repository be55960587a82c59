// Package risk
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/strategy"
)

// Params are the capital-protection knobs.
type Params struct {
	StakeDivisor     float64 // stake = floor(balance / divisor)
	MinStake         float64 // USDC
	MaxStake         float64 // USDC
	MaxStakeFraction float64 // hard cap: stake may never exceed this share of balance
	ExposureFraction float64 // open stakes may never exceed this share of balance
	StopLossFraction float64 // halt trading after this drawdown from initial capital
}

// DefaultParams returns the production risk schedule: a ~5% stake bounded to
// [$5, $50], at most half the balance at risk, trading halted 20% down.
func DefaultParams() Params {
	return Params{
		StakeDivisor:     20,
		MinStake:         5,
		MaxStake:         50,
		MaxStakeFraction: 0.5,
		ExposureFraction: 0.5,
		StopLossFraction: 0.2,
	}
}

func (p Params) Validate() error {
	if p.StakeDivisor <= 0 {
		return fmt.Errorf("stake divisor must be > 0")
	}
	if p.MinStake <= 0 || p.MaxStake < p.MinStake {
		return fmt.Errorf("stake bounds invalid: min=%.2f max=%.2f", p.MinStake, p.MaxStake)
	}
	if p.MaxStakeFraction <= 0 || p.MaxStakeFraction > 1 {
		return fmt.Errorf("max stake fraction must be in (0,1]")
	}
	if p.ExposureFraction <= 0 || p.ExposureFraction > 1 {
		return fmt.Errorf("exposure fraction must be in (0,1]")
	}
	if p.StopLossFraction < 0 || p.StopLossFraction >= 1 {
		return fmt.Errorf("stop loss fraction must be in [0,1)")
	}
	return nil
}

// EntryDecision is the outcome of an authorization check. A rejection is
// normal control flow, not an error.
type EntryDecision struct {
	Approved bool
	Stake    float64
	Reason   string
}

// Manager sizes stakes from the live balance and enforces the concurrent
// position limits. It only reads PortfolioState.
type Manager struct {
	params Params
	log    zerolog.Logger
}

func NewManager(params Params, log zerolog.Logger) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Manager{params: params, log: log.With().Str("component", "risk").Logger()}, nil
}

// Stake computes the dynamic stake for a balance: floor(balance/divisor)
// clamped to the configured bounds. Monotonic in balance.
func (m *Manager) Stake(balance float64) float64 {
	stake := math.Floor(balance / m.params.StakeDivisor)
	return math.Max(m.params.MinStake, math.Min(stake, m.params.MaxStake))
}

// Drawdown reports whether the portfolio has lost enough from its initial
// capital that the kill switch should halt trading.
func (m *Manager) Drawdown(pf *portfolio.State) bool {
	if pf.InitialCapital <= 0 {
		return false
	}
	loss := pf.InitialCapital - pf.Balance
	return loss >= pf.InitialCapital*m.params.StopLossFraction
}

// AuthorizeEntry decides whether a signal may become a position and at what
// stake. It fails closed: any bound that cannot be met rejects the entry
// rather than silently clamping the stake.
func (m *Manager) AuthorizeEntry(asset string, sig strategy.Signal, pf *portfolio.State) EntryDecision {
	reject := func(reason string) EntryDecision {
		m.log.Warn().Str("asset", asset).Str("reason", reason).Msg("entry rejected")
		return EntryDecision{Approved: false, Reason: reason}
	}

	if sig.Direction == strategy.None {
		return EntryDecision{Approved: false, Reason: "no signal"}
	}
	if pf.Has(asset) {
		return reject(fmt.Sprintf("already holding %s", asset))
	}
	if pf.Count() >= pf.MaxPositions {
		return reject(fmt.Sprintf("max positions (%d) reached", pf.MaxPositions))
	}
	if m.Drawdown(pf) {
		return reject(fmt.Sprintf("drawdown kill switch: balance %.2f of initial %.2f", pf.Balance, pf.InitialCapital))
	}

	stake := m.Stake(pf.Balance)
	if stake > pf.Balance {
		return reject(fmt.Sprintf("stake %.2f exceeds balance %.2f", stake, pf.Balance))
	}
	if stake > pf.Balance*m.params.MaxStakeFraction {
		return reject(fmt.Sprintf("stake %.2f exceeds %.0f%% of balance", stake, m.params.MaxStakeFraction*100))
	}
	if pf.Exposure()+stake > pf.Balance*m.params.ExposureFraction {
		return reject(fmt.Sprintf("exposure %.2f + stake %.2f exceeds %.0f%% of balance",
			pf.Exposure(), stake, m.params.ExposureFraction*100))
	}

	return EntryDecision{Approved: true, Stake: stake}
}
