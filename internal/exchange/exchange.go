// Package exchange
package exchange

import (
	"context"
	"time"

	"github.com/amirphl/polyswing/internal/candle"
)

// MarketQuote describes one active 15-minute binary market for a tracked
// asset. It is read-only input to the decision engine.
type MarketQuote struct {
	MarketID      string    `json:"market_id"`
	ConditionID   string    `json:"condition_id"`
	EventID       string    `json:"event_id"`
	Slug          string    `json:"slug"`
	Question      string    `json:"question"`
	Asset         string    `json:"asset"`
	TokenUp       string    `json:"token_up"`
	TokenDown     string    `json:"token_down"`
	OpenTime      time.Time `json:"open_time"`
	CloseTime     time.Time `json:"close_time"`
	ImpliedUpProb float64   `json:"implied_up_prob"` // best ask of the Up token, 0..1
}

// Duration returns the contract length.
func (q MarketQuote) Duration() time.Duration {
	return q.CloseTime.Sub(q.OpenTime)
}

// PriceLevel is one level of a CLOB order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is an L2 snapshot for a single outcome token.
type OrderBook struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
}

// BestBid returns the highest bid, or false when the book side is empty.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the book side is empty.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// AskLiquidityUSD sums price*size over the top ask levels.
func (b OrderBook) AskLiquidityUSD(levels int) float64 {
	total := 0.0
	for i, lvl := range b.Asks {
		if i >= levels {
			break
		}
		total += lvl.Price * lvl.Size
	}
	return total
}

// OrderResult is the confirmation returned by the order executor.
type OrderResult struct {
	OrderID string
	Status  string
	Price   float64
	Size    float64
}

// Resolution is the settlement state of a binary market.
type Resolution int

const (
	ResolutionPending Resolution = iota
	ResolvedUp
	ResolvedDown
)

func (r Resolution) String() string {
	switch r {
	case ResolvedUp:
		return "up"
	case ResolvedDown:
		return "down"
	default:
		return "pending"
	}
}

// QuoteFeed discovers the next expiring 15-minute market for an asset and its
// current implied probability. A nil quote means no market is in window.
type QuoteFeed interface {
	ActiveMarket(ctx context.Context, asset string) (*MarketQuote, error)
}

// BookSource exposes the CLOB order book for liquidity and pricing checks.
type BookSource interface {
	Book(ctx context.Context, tokenID string) (OrderBook, error)
}

// OrderExecutor submits entry and exit orders. Implementations own auth and
// wire formats; the core only sees plain values.
type OrderExecutor interface {
	PlaceEntry(ctx context.Context, tokenID string, price, shares float64) (OrderResult, error)
	PlaceExit(ctx context.Context, tokenID string, price, shares float64) (OrderResult, error)
}

// AccountSource reports authoritative balances, used for stake sizing and
// post-settlement drift correction.
type AccountSource interface {
	Balance(ctx context.Context) (float64, error)
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// ResolutionSource reports whether a market's condition has resolved.
type ResolutionSource interface {
	Resolution(ctx context.Context, conditionID string) (Resolution, error)
}

// SpotFeed supplies spot prices for the tracked underlying assets.
type SpotFeed interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error)
	// LastPrice returns the most recent streamed trade price, or false when
	// the stream has not produced one yet.
	LastPrice(symbol string) (float64, bool)
}
