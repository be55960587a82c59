package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/polyswing/internal/candle"
	"github.com/amirphl/polyswing/internal/journal"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/strategy"
)

func strategyDirection(v int) strategy.Direction {
	switch {
	case v > 0:
		return strategy.Up
	case v < 0:
		return strategy.Down
	default:
		return strategy.None
	}
}

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

type Default struct {
	db *sql.DB
}

// Connect opens the database and verifies the connection.
func Connect(connStr string, maxOpen, maxIdle int) (*Default, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Default{db: db}, nil
}

func New(db *sql.DB) *Default {
	return &Default{db: db}
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s: %w",
				i, candles[i].Symbol, candles[i].Timeframe, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (symbol, timeframe, timestamp, source) DO UPDATE SET
			open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
			close=EXCLUDED.close, volume=EXCLUDED.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare candle insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx,
				c.Symbol, c.Timeframe, c.Timestamp.UTC(),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
				return fmt.Errorf("failed to save candle for %s %s at %s: %w",
					c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *Default) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
	SELECT symbol, timeframe, timestamp, open, high, low, close, volume, source
	FROM candles
	WHERE symbol=$1 AND timeframe=$2 AND timestamp>=$3 AND timestamp<=$4
	ORDER BY timestamp ASC`,
		symbol, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SavePosition upserts a position keyed by market id. Both new entries and
// every lifecycle change go through here.
func (p *Default) SavePosition(ctx context.Context, pos *portfolio.Position) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (
			market_id, condition_id, asset, direction, token_id, question,
			entry_price, shares, stake, entry_time, expiry,
			support_level, resistance_level, spot_at_entry,
			status, order_id, exit_order_id, exit_placed, exit_retries
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (market_id) DO UPDATE SET
			status=EXCLUDED.status, exit_order_id=EXCLUDED.exit_order_id,
			exit_placed=EXCLUDED.exit_placed, exit_retries=EXCLUDED.exit_retries`,
			pos.MarketID, pos.ConditionID, pos.Asset, int(pos.Direction), pos.TokenID, pos.Question,
			pos.EntryPrice, pos.Shares, pos.Stake, pos.EntryTime.UTC(), pos.Expiry.UTC(),
			pos.SupportLevel, pos.ResistanceLevel, pos.SpotAtEntry,
			string(pos.Status), pos.OrderID, pos.ExitOrderID, pos.ExitPlaced, pos.ExitRetries)
		if err != nil {
			return fmt.Errorf("failed to save position %s: %w", pos.MarketID, err)
		}
		return nil
	})
}

// GetOpenPositions returns every position not yet settled, for recovery on
// startup.
func (p *Default) GetOpenPositions(ctx context.Context) ([]*portfolio.Position, error) {
	rows, err := p.queryWithTransaction(ctx, `
	SELECT market_id, condition_id, asset, direction, token_id, question,
		entry_price, shares, stake, entry_time, expiry,
		support_level, resistance_level, spot_at_entry,
		status, order_id, exit_order_id, exit_placed, exit_retries
	FROM positions
	WHERE status NOT IN ($1, $2)
	ORDER BY entry_time ASC`,
		string(portfolio.StatusSettled), string(portfolio.StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var out []*portfolio.Position
	for rows.Next() {
		var pos portfolio.Position
		var direction int
		var status string
		if err := rows.Scan(&pos.MarketID, &pos.ConditionID, &pos.Asset, &direction, &pos.TokenID, &pos.Question,
			&pos.EntryPrice, &pos.Shares, &pos.Stake, &pos.EntryTime, &pos.Expiry,
			&pos.SupportLevel, &pos.ResistanceLevel, &pos.SpotAtEntry,
			&status, &pos.OrderID, &pos.ExitOrderID, &pos.ExitPlaced, &pos.ExitRetries); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.Direction = strategyDirection(direction)
		pos.Status = portfolio.Status(status)
		out = append(out, &pos)
	}
	return out, rows.Err()
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO events (time, type, asset, description, data)
		VALUES ($1,$2,$3,$4,$5)`,
			event.Time.UTC(), event.Type, event.Asset, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
	SELECT time, type, asset, description, data
	FROM events
	WHERE type=$1 AND time>=$2 AND time<=$3
	ORDER BY time ASC`,
		eventType, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Asset, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
