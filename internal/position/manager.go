// Package position drives the order lifecycle of open stakes: entry on an
// authorized signal, take-profit and technical-stop exits while the market
// trades. Settlement and removal belong to the reconciler.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/indicator"
	"github.com/amirphl/polyswing/internal/notifier"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/strategy"
)

// Config bounds the lifecycle manager.
type Config struct {
	TakeProfitPct  float64 // fractional unrealized return that triggers an exit
	MaxExitRetries int     // exit attempts before escalating to the operator
}

// Manager owns every order a position produces after risk approval. It is
// called from the single-writer trading tick and holds no locks.
type Manager struct {
	cfg     Config
	exec    exchange.OrderExecutor
	books   exchange.BookSource
	spot    exchange.SpotFeed
	notify  notifier.Notifier
	symbols map[string]string // asset -> spot symbol
	log     zerolog.Logger
}

func NewManager(cfg Config, exec exchange.OrderExecutor, books exchange.BookSource, spot exchange.SpotFeed, notify notifier.Notifier, symbols map[string]string, log zerolog.Logger) *Manager {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Manager{
		cfg:     cfg,
		exec:    exec,
		books:   books,
		spot:    spot,
		notify:  notify,
		symbols: symbols,
		log:     log.With().Str("component", "position").Logger(),
	}
}

// Enter opens a position for an approved signal: it prices the chosen
// outcome token off the live book, places the entry order and registers the
// position as OPEN. The portfolio balance is debited by the full stake.
func (m *Manager) Enter(ctx context.Context, pf *portfolio.State, quote *exchange.MarketQuote, sig strategy.Signal, stake float64, snap indicator.Snapshot) (*portfolio.Position, error) {
	tokenID := quote.TokenUp
	if sig.Direction == strategy.Down {
		tokenID = quote.TokenDown
	}

	book, err := m.books.Book(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("price entry token: %w", err)
	}
	ask, ok := book.BestAsk()
	if !ok {
		return nil, fmt.Errorf("no asks on token %s", tokenID)
	}
	if ask.Price <= 0 || ask.Price >= 1 {
		return nil, fmt.Errorf("unusable entry price %.4f on token %s", ask.Price, tokenID)
	}
	shares := stake / ask.Price

	pos := &portfolio.Position{
		MarketID:        quote.MarketID,
		ConditionID:     quote.ConditionID,
		Asset:           sig.Asset,
		Direction:       sig.Direction,
		TokenID:         tokenID,
		Question:        quote.Question,
		EntryPrice:      ask.Price,
		Shares:          shares,
		Stake:           stake,
		EntryTime:       time.Now().UTC(),
		Expiry:          quote.CloseTime,
		SupportLevel:    snap.Support,
		ResistanceLevel: snap.Resistance,
		SpotAtEntry:     snap.Price,
		Status:          portfolio.StatusPending,
	}

	res, err := m.exec.PlaceEntry(ctx, tokenID, ask.Price, shares)
	if err != nil {
		return nil, fmt.Errorf("place entry for %s: %w", sig.Asset, err)
	}
	pos.OrderID = res.OrderID
	if err := pos.Advance(portfolio.StatusOpen); err != nil {
		return nil, err
	}

	if err := pf.Add(pos); err != nil {
		// The order is already on the book; this only happens if the caller
		// raced the risk check, which the single-writer tick rules out.
		return nil, fmt.Errorf("register position: %w", err)
	}
	pf.Balance -= stake

	m.log.Info().
		Str("asset", sig.Asset).
		Str("market", quote.MarketID).
		Str("direction", sig.Direction.String()).
		Float64("entry_price", ask.Price).
		Float64("shares", shares).
		Float64("stake", stake).
		Str("order_id", res.OrderID).
		Msg("position opened")
	return pos, nil
}

// Monitor walks the open positions once: checks take-profit and technical
// stops on OPEN positions, and retries unfilled exits on TP_HIT ones.
// Positions past expiry are left untouched for the settlement reconciler.
func (m *Manager) Monitor(ctx context.Context, pf *portfolio.State, now time.Time) {
	for _, pos := range pf.Open() {
		switch pos.Status {
		case portfolio.StatusOpen:
			if now.After(pos.Expiry) {
				continue
			}
			m.checkOpen(ctx, pos)
		case portfolio.StatusTPHit:
			if !pos.ExitPlaced {
				m.placeExit(ctx, pos, "retry exit")
			}
		}
	}
}

func (m *Manager) checkOpen(ctx context.Context, pos *portfolio.Position) {
	book, err := m.books.Book(ctx, pos.TokenID)
	if err != nil {
		m.log.Warn().Err(err).Str("asset", pos.Asset).Msg("book fetch failed, skipping position this tick")
		return
	}
	bid, ok := book.BestBid()
	if !ok {
		return
	}

	if ret := pos.UnrealizedReturn(bid.Price); ret >= m.cfg.TakeProfitPct {
		m.log.Info().
			Str("asset", pos.Asset).
			Float64("entry_price", pos.EntryPrice).
			Float64("bid", bid.Price).
			Float64("return", ret).
			Msg("take profit reached")
		if err := pos.Advance(portfolio.StatusTPHit); err != nil {
			m.log.Error().Err(err).Str("asset", pos.Asset).Msg("status advance refused")
			return
		}
		m.placeExit(ctx, pos, "take profit")
		return
	}

	if symbol, ok := m.symbols[pos.Asset]; ok {
		if spotPx, ok := m.spot.LastPrice(symbol); ok && pos.StopBroken(spotPx) {
			m.log.Warn().
				Str("asset", pos.Asset).
				Float64("spot", spotPx).
				Float64("support", pos.SupportLevel).
				Float64("resistance", pos.ResistanceLevel).
				Msg("technical stop broken")
			if err := pos.Advance(portfolio.StatusTPHit); err != nil {
				m.log.Error().Err(err).Str("asset", pos.Asset).Msg("status advance refused")
				return
			}
			m.placeExit(ctx, pos, "technical stop")
		}
	}
}

// placeExit sells the full position at the current best bid. Failures are
// retried on later ticks until MaxExitRetries, then escalated.
func (m *Manager) placeExit(ctx context.Context, pos *portfolio.Position, reason string) {
	book, err := m.books.Book(ctx, pos.TokenID)
	if err != nil {
		m.exitFailed(pos, reason, err)
		return
	}
	bid, ok := book.BestBid()
	if !ok {
		m.exitFailed(pos, reason, fmt.Errorf("no bids on token %s", pos.TokenID))
		return
	}

	res, err := m.exec.PlaceExit(ctx, pos.TokenID, bid.Price, pos.Shares)
	if err != nil {
		m.exitFailed(pos, reason, err)
		return
	}
	pos.ExitOrderID = res.OrderID
	pos.ExitPlaced = true
	m.log.Info().
		Str("asset", pos.Asset).
		Str("reason", reason).
		Float64("exit_price", bid.Price).
		Str("order_id", res.OrderID).
		Msg("exit placed")
}

func (m *Manager) exitFailed(pos *portfolio.Position, reason string, err error) {
	pos.ExitRetries++
	m.log.Error().Err(err).
		Str("asset", pos.Asset).
		Str("reason", reason).
		Int("retries", pos.ExitRetries).
		Msg("exit attempt failed")

	if pos.ExitRetries == m.cfg.MaxExitRetries {
		msg := fmt.Sprintf("⚠️ exit for %s (%s) failed %d times: %v - manual intervention needed",
			pos.Asset, pos.MarketID, pos.ExitRetries, err)
		if nerr := m.notify.SendWithRetry(msg); nerr != nil {
			m.log.Error().Err(nerr).Msg("escalation notification failed")
		}
	}
}
