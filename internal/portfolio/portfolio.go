// Package portfolio
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/polyswing/internal/strategy"
)

// Status is the lifecycle stage of a position. Transitions only move
// forward; a position is removed from the portfolio only after settlement.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusOpen    Status = "OPEN"
	StatusTPHit   Status = "TP_HIT"
	StatusSettled Status = "SETTLED"
	StatusClosed  Status = "CLOSED"
)

var statusRank = map[Status]int{
	StatusPending: 0,
	StatusOpen:    1,
	StatusTPHit:   2,
	StatusSettled: 3,
	StatusClosed:  4,
}

// Position is one open stake in a binary market. Created on a validated
// entry, mutated only by the lifecycle manager and the reconciler.
type Position struct {
	MarketID    string             `json:"market_id"`
	ConditionID string             `json:"condition_id"`
	Asset       string             `json:"asset"`
	Direction   strategy.Direction `json:"direction"`
	TokenID     string             `json:"token_id"` // outcome token actually bought
	Question    string             `json:"question"`

	EntryPrice float64   `json:"entry_price"` // contract price, 0..1
	Shares     float64   `json:"shares"`
	Stake      float64   `json:"stake"` // USDC committed at entry, fixed thereafter
	EntryTime  time.Time `json:"entry_time"`
	Expiry     time.Time `json:"expiry"`

	// Technical stop levels recorded at entry: an UP position is invalidated
	// when spot breaks below support, a DOWN one when it breaks resistance.
	SupportLevel    float64 `json:"support_level,omitempty"`
	ResistanceLevel float64 `json:"resistance_level,omitempty"`
	SpotAtEntry     float64 `json:"spot_at_entry"`

	Status      Status `json:"status"`
	OrderID     string `json:"order_id"`
	ExitOrderID string `json:"exit_order_id,omitempty"`
	ExitPlaced  bool   `json:"exit_placed"`
	ExitRetries int    `json:"exit_retries"`
}

// Advance moves the position to the next status. Backward moves are refused
// so a settled position can never reopen.
func (p *Position) Advance(next Status) error {
	cur, ok := statusRank[p.Status]
	if !ok {
		return fmt.Errorf("position %s has unknown status %q", p.MarketID, p.Status)
	}
	nxt, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("unknown target status %q", next)
	}
	if nxt <= cur {
		return fmt.Errorf("position %s cannot move %s -> %s", p.MarketID, p.Status, next)
	}
	p.Status = next
	return nil
}

// UnrealizedReturn is the fractional gain of the contract price over entry.
func (p *Position) UnrealizedReturn(currentPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (currentPrice - p.EntryPrice) / p.EntryPrice
}

// StopBroken reports whether the spot price has crossed the technical level
// recorded at entry.
func (p *Position) StopBroken(spotPrice float64) bool {
	if spotPrice <= 0 {
		return false
	}
	switch p.Direction {
	case strategy.Up:
		return p.SupportLevel > 0 && spotPrice < p.SupportLevel
	case strategy.Down:
		return p.ResistanceLevel > 0 && spotPrice > p.ResistanceLevel
	}
	return false
}

// State is the process-wide portfolio: the USDC balance plus the set of open
// positions, at most one per asset and MaxPositions total. It has a single
// writer per tick (the trading loop); no internal locking.
type State struct {
	Balance        float64
	InitialCapital float64
	MaxPositions   int

	open map[string]*Position // keyed by asset
}

func NewState(balance float64, maxPositions int) *State {
	return &State{
		Balance:        balance,
		InitialCapital: balance,
		MaxPositions:   maxPositions,
		open:           make(map[string]*Position),
	}
}

// Add inserts a new open position, enforcing the per-asset and total caps.
func (s *State) Add(p *Position) error {
	if p == nil || p.Asset == "" {
		return fmt.Errorf("invalid position")
	}
	if _, exists := s.open[p.Asset]; exists {
		return fmt.Errorf("position for %s already open", p.Asset)
	}
	if len(s.open) >= s.MaxPositions {
		return fmt.Errorf("max open positions (%d) reached", s.MaxPositions)
	}
	s.open[p.Asset] = p
	return nil
}

// Remove drops the asset's position from the open set. Only the settlement
// reconciler calls this.
func (s *State) Remove(asset string) {
	delete(s.open, asset)
}

// Get returns the open position for an asset.
func (s *State) Get(asset string) (*Position, bool) {
	p, ok := s.open[asset]
	return p, ok
}

// Has reports whether the asset has an open position.
func (s *State) Has(asset string) bool {
	_, ok := s.open[asset]
	return ok
}

// Count returns the number of open positions.
func (s *State) Count() int { return len(s.open) }

// Open returns the open positions ordered by asset for deterministic ticks.
func (s *State) Open() []*Position {
	out := make([]*Position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Exposure is the total USDC currently committed to open positions.
func (s *State) Exposure() float64 {
	total := 0.0
	for _, p := range s.open {
		total += p.Stake
	}
	return total
}

// Credit adds a realized payout to the balance.
func (s *State) Credit(amount float64) {
	s.Balance += amount
}

// SyncBalance overwrites the tracked balance with the authoritative value
// from the account collaborator (drift correction).
func (s *State) SyncBalance(balance float64) {
	s.Balance = balance
}
