// Package notify delivers user notifications after financial transactions
// commit.
//
// Dispatch is fire-and-forget: it is invoked only after the owning
// database transaction has committed, never inside it, and a delivery
// failure is logged and swallowed (it must never roll back settled funds).
package notify

import (
	"context"
	"log/slog"
)

// Notification is a single message for a user.
type Notification struct {
	UserID   string         `json:"userId"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     string         `json:"type"` // e.g. booking_status, payment, requote, dispute
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Notifier dispatches notifications. Implementations must be best-effort
// and non-blocking with respect to the caller's success.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// Logger writes notifications to the structured log. Used in development
// mode when no webhook subscriptions exist.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a log-backed notifier.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Notify(ctx context.Context, n Notification) {
	l.logger.Info("notification",
		"user", n.UserID,
		"type", n.Type,
		"title", n.Title,
		"message", n.Message,
	)
}
