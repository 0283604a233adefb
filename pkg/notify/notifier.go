package notify

import (
	"context"
	"log"
)

// Notification is a user-facing message derived from a realtime event. It
// is a side channel: delivery is best effort and independent of event
// handler dispatch.
type Notification struct {
	Kind  string            `json:"kind"` // realtime event name that produced it
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier delivers notifications to whatever surface the installation
// uses (log line, message broker consumed by the UI process).
type Notifier interface {
	// Publish delivers one notification.
	Publish(ctx context.Context, n *Notification) error
	// Close cleans up any resources (connections).
	Close() error
}

// logNotifier is the default sink when no broker is configured.
type logNotifier struct{}

func (l *logNotifier) Publish(ctx context.Context, n *Notification) error {
	log.Printf("Notification [%s] %s: %s", n.Kind, n.Title, n.Body)
	return nil
}

func (l *logNotifier) Close() error { return nil }
