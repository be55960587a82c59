// Package journal
package journal

import (
	"context"
	"time"
)

// Event types recorded by the trading loop.
const (
	TypeSignal       = "signal"
	TypeEntry        = "entry"
	TypeExit         = "exit"
	TypeSettlement   = "settlement"
	TypeRiskRejected = "risk_rejected"
	TypeAlert        = "alert"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string
	Asset       string
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
