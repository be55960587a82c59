package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/polyswing/internal/candle"
	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/indicator"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/strategy"
)

type orderCall struct {
	tokenID string
	price   float64
	shares  float64
}

type fakeExec struct {
	entries  []orderCall
	exits    []orderCall
	exitErr  error
	entryErr error
}

func (f *fakeExec) PlaceEntry(_ context.Context, tokenID string, price, shares float64) (exchange.OrderResult, error) {
	if f.entryErr != nil {
		return exchange.OrderResult{}, f.entryErr
	}
	f.entries = append(f.entries, orderCall{tokenID, price, shares})
	return exchange.OrderResult{OrderID: "entry-1", Status: "matched", Price: price, Size: shares}, nil
}

func (f *fakeExec) PlaceExit(_ context.Context, tokenID string, price, shares float64) (exchange.OrderResult, error) {
	if f.exitErr != nil {
		return exchange.OrderResult{}, f.exitErr
	}
	f.exits = append(f.exits, orderCall{tokenID, price, shares})
	return exchange.OrderResult{OrderID: "exit-1", Status: "matched", Price: price, Size: shares}, nil
}

type fakeBooks struct {
	books map[string]exchange.OrderBook
	err   error
}

func (f *fakeBooks) Book(_ context.Context, tokenID string) (exchange.OrderBook, error) {
	if f.err != nil {
		return exchange.OrderBook{}, f.err
	}
	return f.books[tokenID], nil
}

type fakeSpot struct {
	prices map[string]float64
}

func (f *fakeSpot) Candles(context.Context, string, string, int) ([]candle.Candle, error) {
	return nil, nil
}

func (f *fakeSpot) LastPrice(symbol string) (float64, bool) {
	px, ok := f.prices[symbol]
	return px, ok
}

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) Send(msg string) error          { f.msgs = append(f.msgs, msg); return nil }
func (f *fakeNotifier) SendWithRetry(msg string) error { return f.Send(msg) }

func bookWith(bid, ask float64) exchange.OrderBook {
	return exchange.OrderBook{
		Bids: []exchange.PriceLevel{{Price: bid, Size: 10000}},
		Asks: []exchange.PriceLevel{{Price: ask, Size: 10000}},
	}
}

func testManager(exec *fakeExec, books *fakeBooks, spot *fakeSpot, notif *fakeNotifier) *Manager {
	return NewManager(
		Config{TakeProfitPct: 0.30, MaxExitRetries: 3},
		exec, books, spot, notif,
		map[string]string{"BTC": "BTCUSDT"},
		zerolog.Nop(),
	)
}

func testQuote() *exchange.MarketQuote {
	now := time.Now().UTC()
	return &exchange.MarketQuote{
		MarketID:    "mkt-1",
		ConditionID: "0xcond",
		Asset:       "BTC",
		TokenUp:     "tok-up",
		TokenDown:   "tok-down",
		Question:    "Bitcoin Up or Down?",
		OpenTime:    now.Add(-3 * time.Minute),
		CloseTime:   now.Add(12 * time.Minute),
	}
}

func upSignal() strategy.Signal {
	return strategy.Signal{Asset: "BTC", Direction: strategy.Up, Confidence: 0.85}
}

func TestEnterOpensPosition(t *testing.T) {
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.44, 0.46)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(100, 2)
	snap := indicator.Snapshot{Asset: "BTC", Price: 65000, Support: 64000, Resistance: 66000}

	pos, err := m.Enter(context.Background(), pf, testQuote(), upSignal(), 20, snap)
	require.NoError(t, err)

	assert.Equal(t, portfolio.StatusOpen, pos.Status)
	assert.Equal(t, "tok-up", pos.TokenID)
	assert.InDelta(t, 0.46, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 20.0/0.46, pos.Shares, 1e-9)
	assert.Equal(t, "entry-1", pos.OrderID)
	assert.InDelta(t, 64000, pos.SupportLevel, 1e-9)

	assert.True(t, pf.Has("BTC"))
	assert.InDelta(t, 80, pf.Balance, 1e-9)

	require.Len(t, exec.entries, 1)
	assert.Equal(t, "tok-up", exec.entries[0].tokenID)
}

func TestEnterDownBuysDownToken(t *testing.T) {
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-down": bookWith(0.52, 0.55)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(100, 2)
	sig := strategy.Signal{Asset: "BTC", Direction: strategy.Down}
	pos, err := m.Enter(context.Background(), pf, testQuote(), sig, 20, indicator.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "tok-down", pos.TokenID)
	assert.InDelta(t, 0.55, pos.EntryPrice, 1e-9)
}

func TestEnterFailsOnEmptyBook(t *testing.T) {
	m := testManager(&fakeExec{}, &fakeBooks{books: map[string]exchange.OrderBook{}}, &fakeSpot{}, &fakeNotifier{})
	pf := portfolio.NewState(100, 2)
	_, err := m.Enter(context.Background(), pf, testQuote(), upSignal(), 20, indicator.Snapshot{})
	require.Error(t, err)
	assert.False(t, pf.Has("BTC"))
	assert.InDelta(t, 100, pf.Balance, 1e-9)
}

func TestEnterFailsOnOrderError(t *testing.T) {
	exec := &fakeExec{entryErr: errors.New("exchange down")}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.44, 0.46)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(100, 2)
	_, err := m.Enter(context.Background(), pf, testQuote(), upSignal(), 20, indicator.Snapshot{})
	require.Error(t, err)
	assert.False(t, pf.Has("BTC"))
	assert.InDelta(t, 100, pf.Balance, 1e-9)
}

func openPosition(t *testing.T, pf *portfolio.State, entryPrice float64) *portfolio.Position {
	t.Helper()
	pos := &portfolio.Position{
		MarketID:     "mkt-1",
		ConditionID:  "0xcond",
		Asset:        "BTC",
		Direction:    strategy.Up,
		TokenID:      "tok-up",
		EntryPrice:   entryPrice,
		Shares:       40,
		Stake:        20,
		EntryTime:    time.Now().UTC().Add(-5 * time.Minute),
		Expiry:       time.Now().UTC().Add(10 * time.Minute),
		SupportLevel: 64000,
		SpotAtEntry:  65000,
		Status:       portfolio.StatusOpen,
	}
	require.NoError(t, pf.Add(pos))
	return pos
}

func TestMonitorTakeProfitAtThreshold(t *testing.T) {
	// Entry 0.50, bid 0.65: exactly a 30% unrealized return.
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.65, 0.66)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(80, 2)
	pos := openPosition(t, pf, 0.50)

	m.Monitor(context.Background(), pf, time.Now().UTC())

	assert.Equal(t, portfolio.StatusTPHit, pos.Status)
	assert.True(t, pos.ExitPlaced)
	assert.Equal(t, "exit-1", pos.ExitOrderID)
	require.Len(t, exec.exits, 1)
	assert.InDelta(t, 0.65, exec.exits[0].price, 1e-9)
	assert.InDelta(t, 40, exec.exits[0].shares, 1e-9)
	// Still in the portfolio: only the reconciler removes positions.
	assert.True(t, pf.Has("BTC"))
}

func TestMonitorBelowThresholdHolds(t *testing.T) {
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.64, 0.66)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(80, 2)
	pos := openPosition(t, pf, 0.50)

	m.Monitor(context.Background(), pf, time.Now().UTC())

	assert.Equal(t, portfolio.StatusOpen, pos.Status)
	assert.False(t, pos.ExitPlaced)
	assert.Empty(t, exec.exits)
}

func TestMonitorTechnicalStop(t *testing.T) {
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.45, 0.47)}}
	spot := &fakeSpot{prices: map[string]float64{"BTCUSDT": 63900}} // below support
	m := testManager(exec, books, spot, &fakeNotifier{})

	pf := portfolio.NewState(80, 2)
	pos := openPosition(t, pf, 0.50)

	m.Monitor(context.Background(), pf, time.Now().UTC())

	assert.Equal(t, portfolio.StatusTPHit, pos.Status)
	assert.True(t, pos.ExitPlaced)
	require.Len(t, exec.exits, 1)
	assert.InDelta(t, 0.45, exec.exits[0].price, 1e-9)
}

func TestMonitorExpiredLeftForReconciler(t *testing.T) {
	exec := &fakeExec{}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.99, 1.0)}}
	m := testManager(exec, books, &fakeSpot{}, &fakeNotifier{})

	pf := portfolio.NewState(80, 2)
	pos := openPosition(t, pf, 0.50)
	pos.Expiry = time.Now().UTC().Add(-time.Minute)

	m.Monitor(context.Background(), pf, time.Now().UTC())

	assert.Equal(t, portfolio.StatusOpen, pos.Status)
	assert.Empty(t, exec.exits)
}

func TestExitRetriesThenEscalates(t *testing.T) {
	exec := &fakeExec{exitErr: errors.New("order rejected")}
	books := &fakeBooks{books: map[string]exchange.OrderBook{"tok-up": bookWith(0.65, 0.66)}}
	notif := &fakeNotifier{}
	m := testManager(exec, books, &fakeSpot{}, notif)

	pf := portfolio.NewState(80, 2)
	pos := openPosition(t, pf, 0.50)

	// First tick trips take profit and fails the exit; later ticks retry.
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		m.Monitor(context.Background(), pf, now)
	}

	assert.Equal(t, portfolio.StatusTPHit, pos.Status)
	assert.False(t, pos.ExitPlaced)
	assert.Equal(t, 4, pos.ExitRetries)
	// Escalation fires exactly once, when the retry budget is spent.
	require.Len(t, notif.msgs, 1)
	assert.Contains(t, notif.msgs[0], "manual intervention")

	// Exit ultimately succeeding clears the retry loop.
	exec.exitErr = nil
	m.Monitor(context.Background(), pf, now)
	assert.True(t, pos.ExitPlaced)
	require.Len(t, notif.msgs, 1)
}
