package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScanner struct {
	quote *MarketQuote
	err   error
}

func (s stubScanner) ScanAsset(context.Context, AssetFilter) (*MarketQuote, error) {
	return s.quote, s.err
}

type stubBooks struct {
	books map[string]OrderBook
	err   error
}

func (s stubBooks) Book(_ context.Context, tokenID string) (OrderBook, error) {
	if s.err != nil {
		return OrderBook{}, s.err
	}
	return s.books[tokenID], nil
}

func testQuote() *MarketQuote {
	now := time.Now().UTC()
	return &MarketQuote{
		MarketID:    "mkt-1",
		ConditionID: "0xcond",
		Asset:       "BTC",
		TokenUp:     "tok-up",
		TokenDown:   "tok-down",
		OpenTime:    now.Add(-3 * time.Minute),
		CloseTime:   now.Add(12 * time.Minute),
	}
}

func TestActiveMarketFillsImpliedProbability(t *testing.T) {
	books := stubBooks{books: map[string]OrderBook{
		"tok-up": {
			TokenID: "tok-up",
			Asks:    []PriceLevel{{Price: 0.42, Size: 5000}},
			Bids:    []PriceLevel{{Price: 0.40, Size: 5000}},
		},
	}}
	q := NewQuoteService(stubScanner{quote: testQuote()}, books, 5, zerolog.Nop())
	q.Track("BTC", []string{"bitcoin"}, 500)

	quote, err := q.ActiveMarket(context.Background(), "BTC")
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.InDelta(t, 0.42, quote.ImpliedUpProb, 1e-9)
}

func TestActiveMarketRejectsThinBook(t *testing.T) {
	books := stubBooks{books: map[string]OrderBook{
		"tok-up": {
			TokenID: "tok-up",
			Asks:    []PriceLevel{{Price: 0.42, Size: 10}}, // $4.20 of depth
		},
	}}
	q := NewQuoteService(stubScanner{quote: testQuote()}, books, 5, zerolog.Nop())
	q.Track("BTC", []string{"bitcoin"}, 500)

	quote, err := q.ActiveMarket(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestActiveMarketNoOpenMarket(t *testing.T) {
	q := NewQuoteService(stubScanner{}, stubBooks{}, 5, zerolog.Nop())
	q.Track("BTC", []string{"bitcoin"}, 500)

	quote, err := q.ActiveMarket(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestActiveMarketUntrackedAsset(t *testing.T) {
	q := NewQuoteService(stubScanner{}, stubBooks{}, 5, zerolog.Nop())
	_, err := q.ActiveMarket(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestActiveMarketPropagatesBookError(t *testing.T) {
	q := NewQuoteService(stubScanner{quote: testQuote()}, stubBooks{err: errors.New("book down")}, 5, zerolog.Nop())
	q.Track("BTC", []string{"bitcoin"}, 500)

	_, err := q.ActiveMarket(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book down")
}
