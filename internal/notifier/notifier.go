// Package notifier
package notifier

// Notifier is the operator-facing alert channel (e.g., Telegram). The engine
// escalates through it after exhausting retries; it never blocks a trade.
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// Noop discards all notifications. Used in tests and when no channel is
// configured.
type Noop struct{}

func (Noop) Send(string) error          { return nil }
func (Noop) SendWithRetry(string) error { return nil }
