package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandlesParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "5m", r.URL.Query().Get("interval"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[
			[1756200000000, "65000.1", "65100.0", "64900.5", "65050.2", "12.5", 1756200299999, "0", 0, "0", "0", "0"],
			[1756200300000, "65050.2", "65200.0", "65000.0", "65150.0", "8.1", 1756200599999, "0", 0, "0", "0", "0"]
		]`)
	}))
	defer srv.Close()

	b := NewBinanceClient(zerolog.Nop())
	b.restHost = srv.URL

	candles, err := b.Candles(context.Background(), "btcusdt", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, time.UnixMilli(1756200000000).UTC(), first.Timestamp)
	assert.InDelta(t, 65000.1, first.Open, 1e-9)
	assert.InDelta(t, 65100.0, first.High, 1e-9)
	assert.InDelta(t, 64900.5, first.Low, 1e-9)
	assert.InDelta(t, 65050.2, first.Close, 1e-9)
	assert.InDelta(t, 12.5, first.Volume, 1e-9)
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, "5m", first.Timeframe)
	assert.NoError(t, first.Validate())

	assert.True(t, candles[1].Timestamp.After(first.Timestamp))
}

func TestCandlesBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1756200000000, "not-a-number", "1", "1", "1", "1"]]`)
	}))
	defer srv.Close()

	b := NewBinanceClient(zerolog.Nop())
	b.restHost = srv.URL

	_, err := b.Candles(context.Background(), "BTCUSDT", "5m", 1)
	assert.Error(t, err)
}

func TestCandlesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBinanceClient(zerolog.Nop())
	b.restHost = srv.URL

	_, err := b.Candles(context.Background(), "BTCUSDT", "5m", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestLastPriceBeforeStream(t *testing.T) {
	b := NewBinanceClient(zerolog.Nop())
	_, ok := b.LastPrice("BTCUSDT")
	assert.False(t, ok)

	b.mu.Lock()
	b.lastPrice["BTCUSDT"] = 65000.5
	b.mu.Unlock()

	px, ok := b.LastPrice("btcusdt")
	require.True(t, ok)
	assert.InDelta(t, 65000.5, px, 1e-9)
}

func TestStreamRequiresSymbols(t *testing.T) {
	b := NewBinanceClient(zerolog.Nop())
	assert.Error(t, b.Stream(context.Background(), nil))
}
