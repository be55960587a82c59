// Package candle
package candle

import (
	"errors"
	"time"
)

// Candle represents one OHLCV bar fetched from the spot exchange.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Source    string    `json:"source"`
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	return nil
}

// Closes extracts the close prices from a slice of candles, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Close)
	}
	return out
}

// Series is a bounded price series for one symbol. New samples are appended
// and the oldest are evicted once the series reaches its maximum length.
// It is not safe for concurrent use; the trading loop is its single writer.
type Series struct {
	Symbol string

	maxLen int
	prices []float64
	times  []time.Time
}

// NewSeries creates a bounded series. maxLen must cover the largest indicator
// lookback plus the reversal confirmation window.
func NewSeries(symbol string, maxLen int) *Series {
	if maxLen < 2 {
		maxLen = 2
	}
	return &Series{
		Symbol: symbol,
		maxLen: maxLen,
		prices: make([]float64, 0, maxLen),
		times:  make([]time.Time, 0, maxLen),
	}
}

// Append adds a sample and evicts the oldest one if the series is full.
// Samples not newer than the newest one already present are ignored.
func (s *Series) Append(price float64, ts time.Time) {
	if n := len(s.times); n > 0 && !ts.After(s.times[n-1]) {
		return
	}
	s.prices = append(s.prices, price)
	s.times = append(s.times, ts)
	if len(s.prices) > s.maxLen {
		s.prices = s.prices[1:]
		s.times = s.times[1:]
	}
}

// Prices returns the underlying price slice, oldest first. Callers must not
// mutate it.
func (s *Series) Prices() []float64 { return s.prices }

// Last returns the most recent price, or false when the series is empty.
func (s *Series) Last() (float64, bool) {
	if len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[len(s.prices)-1], true
}

// LastTime returns the timestamp of the most recent sample.
func (s *Series) LastTime() (time.Time, bool) {
	if len(s.times) == 0 {
		return time.Time{}, false
	}
	return s.times[len(s.times)-1], true
}

// Len returns the number of samples currently held.
func (s *Series) Len() int { return len(s.prices) }

// ChangePct returns the percentage change of the last price versus the price
// lookback samples earlier. Returns 0 when there is not enough history.
func (s *Series) ChangePct(lookback int) float64 {
	n := len(s.prices)
	if lookback <= 0 || n < lookback+1 {
		return 0
	}
	old := s.prices[n-1-lookback]
	if old == 0 {
		return 0
	}
	return (s.prices[n-1] - old) / old * 100
}
