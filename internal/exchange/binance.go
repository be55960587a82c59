package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amirphl/polyswing/internal/candle"
)

// BinanceClient provides spot market data: historical klines over REST and
// a live trade stream over websocket. It implements SpotFeed.
type BinanceClient struct {
	restHost string
	wsHost   string
	client   *http.Client
	log      zerolog.Logger

	mu        sync.RWMutex
	lastPrice map[string]float64
}

func NewBinanceClient(log zerolog.Logger) *BinanceClient {
	return &BinanceClient{
		restHost:  "https://api.binance.com",
		wsHost:    "wss://stream.binance.com:9443",
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("component", "binance").Logger(),
		lastPrice: make(map[string]float64),
	}
}

// Candles fetches closed klines for a symbol. The interval uses Binance
// notation ("5m", "15m").
func (b *BinanceClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := b.restHost + "/api/v3/klines?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build klines request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines: unexpected status %d", resp.StatusCode)
	}

	// Each kline is a mixed-type array: open time, then OHLCV as strings.
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("kline row too short: %d fields", len(k))
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("parse kline open time: %w", err)
		}
		vals := make([]float64, 5)
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(k[i], &s); err != nil {
				return nil, fmt.Errorf("parse kline field %d: %w", i, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse kline value %q: %w", s, err)
			}
			vals[i-1] = v
		}
		candles = append(candles, candle.Candle{
			Timestamp: time.UnixMilli(openMs).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Symbol:    strings.ToUpper(symbol),
			Timeframe: interval,
			Source:    "binance",
		})
	}
	return candles, nil
}

// LastPrice returns the most recent streamed trade price for a symbol.
func (b *BinanceClient) LastPrice(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	px, ok := b.lastPrice[strings.ToUpper(symbol)]
	return px, ok
}

type wsEnvelope struct {
	Stream string  `json:"stream"`
	Data   wsTrade `json:"data"`
}

type wsTrade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// Stream consumes the combined trade stream for the given symbols until the
// context is cancelled, reconnecting with capped exponential backoff.
func (b *BinanceClient) Stream(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("spot stream requires at least one symbol")
	}

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	endpoint := fmt.Sprintf("%s/stream?streams=%s", b.wsHost, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := b.consumeStream(ctx, endpoint)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn().Err(err).Msg("spot stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (b *BinanceClient) consumeStream(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.log.Info().Msg("spot stream connected")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					b.log.Warn().Err(err).Msg("spot stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			b.log.Warn().Err(err).Msg("failed to decode spot trade")
			continue
		}
		px, err := strconv.ParseFloat(env.Data.Price, 64)
		if err != nil {
			b.log.Warn().Err(err).Msg("invalid price on spot stream")
			continue
		}

		symbol := strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
		b.mu.Lock()
		b.lastPrice[symbol] = px
		b.mu.Unlock()
	}
}
