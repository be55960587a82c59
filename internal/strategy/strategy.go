// Package strategy
package strategy

import "time"

// Direction is the side of a binary market a signal points at.
type Direction int8

const (
	None Direction = 0
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "NONE"
	}
}

// Signal is a transient trade recommendation for one asset. It is consumed
// by the entry gate on the tick it was generated and never stored.
type Signal struct {
	Asset      string    `json:"asset"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Divergence float64   `json:"divergence"` // percentage points, positive = up-side undervalued
	Price      float64   `json:"price"`      // spot price at signal time
	Time       time.Time `json:"time"`
}
