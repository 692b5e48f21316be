// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
// Callers treat notification delivery as best-effort and log-and-continue.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"` // -2 (lowest) .. 2 (emergency, requires acknowledgment)
	Sound    string `json:"sound,omitempty"`
	Source   string `json:"source"` // e.g. "medical.dispatch", "utility.shutdown"
}

// Notifier is the port interface for sending field notifications (hospital
// desks, fire stations, utility control rooms).
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "pushover").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
