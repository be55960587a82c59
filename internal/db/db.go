// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/polyswing/internal/candle"
	"github.com/amirphl/polyswing/internal/journal"
	"github.com/amirphl/polyswing/internal/portfolio"
)

// CandleStorage persists spot candles for indicator warmup across restarts.
type CandleStorage interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)
}

// PositionStorage persists positions so open stakes survive a restart.
// Settled positions stay on record for later analysis.
type PositionStorage interface {
	SavePosition(ctx context.Context, p *portfolio.Position) error
	GetOpenPositions(ctx context.Context) ([]*portfolio.Position, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	CandleStorage
	PositionStorage
	journal.Journaler
}
