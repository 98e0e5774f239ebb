// Package notify delivers outbound email. Dispatch is fire-and-forget: a
// lifecycle transition commits first and a failing mail provider only shows
// up in the logs, never as a transition failure.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Message is a rendered notification. Body may contain a one-time temporary
// secret, so implementations must never log it.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Dispatcher sends a message asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// LogDispatcher records that a notification would have been sent. Used in
// development and whenever SMTP is not configured.
type LogDispatcher struct {
	Log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{Log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, msg Message) {
	d.Log.Info("Notification dispatched (log only)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
}
