package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/systmms/credrotate/internal/rotation/storage"
	"github.com/systmms/credrotate/pkg/rotation"
)

// EventType is the outcome a notification announces.
type EventType string

const (
	// EventCompleted means the site confirmed the new secret.
	EventCompleted EventType = "completed"

	// EventFailed means the run stopped and the previous secret is still live.
	EventFailed EventType = "failed"

	// EventAmbiguous means the rotation form was submitted without a
	// confirmed outcome. Someone has to find out which secret works.
	EventAmbiguous EventType = "ambiguous"

	// EventProbe is a finished dry run, successful or not.
	EventProbe EventType = "probe"
)

// DefaultEvents are announced when a notifier lists none.
var DefaultEvents = []EventType{EventCompleted, EventFailed, EventAmbiguous}

// ParseEventType accepts the lower-case event names used in configuration.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToLower(strings.TrimSpace(s))); t {
	case EventCompleted, EventFailed, EventAmbiguous, EventProbe:
		return t, nil
	}
	return "", fmt.Errorf("unknown event %q (must be completed, failed, ambiguous or probe)", s)
}

// Event describes one finished run. It carries references to where a
// secret was stored, never the secret.
type Event struct {
	Type       EventType
	RunID      string
	Target     string
	Identity   string
	Status     rotation.Status
	ErrorKind  string
	Error      string
	FailedStep string
	Duration   time.Duration
	Timestamp  time.Time

	// StoreRef and StoreVersion locate the escrowed candidate.
	StoreRef     string
	StoreVersion string
}

// EventFromHistory builds the event for a recorded run.
func EventFromHistory(e *storage.HistoryEntry) Event {
	ev := Event{
		RunID:        e.ID,
		Target:       e.Target,
		Identity:     e.Identity,
		Status:       e.Status,
		ErrorKind:    e.ErrorKind,
		Error:        e.Error,
		Duration:     e.Duration,
		Timestamp:    e.Timestamp,
		StoreRef:     e.StoreRef,
		StoreVersion: e.StoreVersion,
	}
	for _, s := range e.Steps {
		if s.Status == "failed" {
			ev.FailedStep = s.Name
			break
		}
	}

	switch {
	case e.DryRun || e.Action == storage.ActionProbe:
		ev.Type = EventProbe
	case e.Status == rotation.StatusAmbiguous:
		ev.Type = EventAmbiguous
	case e.Status == rotation.StatusCompleted:
		ev.Type = EventCompleted
	default:
		ev.Type = EventFailed
	}
	return ev
}

// Title is a one-line summary of the event.
func (e Event) Title() string {
	switch e.Type {
	case EventCompleted:
		return fmt.Sprintf("Rotated %s", e.Target)
	case EventFailed:
		return fmt.Sprintf("Rotation of %s failed", e.Target)
	case EventAmbiguous:
		return fmt.Sprintf("Rotation of %s needs attention: outcome unknown", e.Target)
	case EventProbe:
		if e.Error != "" {
			return fmt.Sprintf("Dry run of %s failed", e.Target)
		}
		return fmt.Sprintf("Dry run of %s passed", e.Target)
	}
	return "Rotation event for " + e.Target
}
