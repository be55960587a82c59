package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/polyswing/internal/candle"
	"github.com/amirphl/polyswing/internal/journal"
	"github.com/amirphl/polyswing/internal/portfolio"
)

// MemoryStorage is a Storage implementation for dry runs and tests. State
// is lost on restart.
type MemoryStorage struct {
	mu sync.RWMutex

	// Candles keyed by symbol|timeframe|timestamp|source
	candles map[string]candle.Candle

	// Positions by market ID
	positions map[string]portfolio.Position

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		candles:   make(map[string]candle.Candle),
		positions: make(map[string]portfolio.Position),
		events:    make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

func candleKey(symbol, timeframe string, ts time.Time, source string) string {
	return strings.ToUpper(symbol) + "|" + timeframe + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + source
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		c := candles[i]
		c.Timestamp = c.Timestamp.UTC()
		m.candles[candleKey(c.Symbol, c.Timeframe, c.Timestamp, c.Source)] = c
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []candle.Candle
	for _, c := range m.candles {
		if !strings.EqualFold(c.Symbol, symbol) || c.Timeframe != timeframe {
			continue
		}
		if c.Timestamp.Before(start) || c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) SavePosition(ctx context.Context, p *portfolio.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.MarketID] = *p
	return nil
}

func (m *MemoryStorage) GetOpenPositions(ctx context.Context) ([]*portfolio.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*portfolio.Position
	for _, p := range m.positions {
		if p.Status == portfolio.StatusSettled || p.Status == portfolio.StatusClosed {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
