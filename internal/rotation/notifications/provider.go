// Package notifications announces rotation outcomes to webhooks and Slack.
package notifications

import (
	"context"
	"strings"
)

// Notifier delivers events to one destination.
type Notifier interface {
	// Name identifies the notifier in logs, e.g. "slack" or "webhook:ops".
	Name() string

	Send(ctx context.Context, event Event) error

	// SupportsEvent reports whether the notifier is subscribed to t.
	SupportsEvent(t EventType) bool

	Validate(ctx context.Context) error
}

func subscribed(events []string, t EventType) bool {
	if len(events) == 0 {
		for _, d := range DefaultEvents {
			if d == t {
				return true
			}
		}
		return false
	}
	for _, e := range events {
		if strings.EqualFold(strings.TrimSpace(e), string(t)) {
			return true
		}
	}
	return false
}
