// Package indicator
package indicator

import "errors"

// ErrInsufficientData is returned when a calculation is requested before the
// lookback window has filled. Callers treat it as a recoverable cold-start
// condition, not a failure.
var ErrInsufficientData = errors.New("indicator: insufficient data for lookback window")
