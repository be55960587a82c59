package strategy

import "time"

// Gate admits signals only inside the "golden window" of a contract: late
// enough that the cycle's direction has shape, early enough that the position
// can still move. Expressed as fractions of the contract duration so the same
// gate works if the contract length ever changes; the defaults correspond to
// minutes 2..12 of a 15-minute contract.
type Gate struct {
	StartFraction float64
	EndFraction   float64
}

// DefaultGate returns the 2..12 minute window for 15-minute contracts.
func DefaultGate() Gate {
	return Gate{StartFraction: 2.0 / 15.0, EndFraction: 12.0 / 15.0}
}

// Admit reports whether now falls inside the entry window of the contract.
// This is a hard gate: signal strength never overrides it.
func (g Gate) Admit(openTime, closeTime, now time.Time) bool {
	duration := closeTime.Sub(openTime)
	if duration <= 0 {
		return false
	}
	elapsed := now.Sub(openTime)
	if elapsed < 0 {
		return false
	}
	frac := float64(elapsed) / float64(duration)
	return frac >= g.StartFraction && frac <= g.EndFraction
}
