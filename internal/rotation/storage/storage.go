// Package storage keeps the rotation audit trail: one history entry per run
// and a status summary per target. Entries never contain secret values.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/systmms/credrotate/pkg/rotation"
)

// Storage defines the interface for rotation history storage
type Storage interface {
	// SaveStatus saves the status summary for a target
	SaveStatus(status *TargetStatus) error

	// GetStatus retrieves the status summary for a target
	GetStatus(target string) (*TargetStatus, error)

	// SaveHistory saves a history entry
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves history for a target, newest first
	GetHistory(target string, limit int) ([]HistoryEntry, error)

	// GetAllHistory retrieves history for all targets, newest first
	GetAllHistory(limit int) ([]HistoryEntry, error)

	// CleanupOldEntries removes entries older than the given age and
	// reports how many were removed
	CleanupOldEntries(olderThan time.Duration) (int, error)
}

// Run actions.
const (
	ActionRotate = "rotate"
	ActionProbe  = "probe"
)

// HistoryEntry represents a single run
type HistoryEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Target    string          `json:"target"`
	Identity  string          `json:"identity,omitempty"`
	Action    string          `json:"action"`
	Status    rotation.Status `json:"status"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Submitted bool            `json:"submitted"`
	DryRun    bool            `json:"dry_run,omitempty"`

	// Emitted is true when the new secret was written to stdout.
	Emitted bool `json:"emitted"`

	// StoreRef and StoreVersion describe the write-back, if any.
	StoreRef     string `json:"store_ref,omitempty"`
	StoreVersion string `json:"store_version,omitempty"`
	StoreError   string `json:"store_error,omitempty"`

	Steps []rotation.StepRecord `json:"steps,omitempty"`
}

// NewHistoryEntry builds an entry from a finished run. result may be nil
// when the run never started.
func NewHistoryEntry(target, action string, result *rotation.Result, runErr error) *HistoryEntry {
	entry := &HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Target:    target,
		Action:    action,
		Status:    rotation.StatusFor(runErr),
	}
	if runErr != nil {
		entry.ErrorKind = rotation.Kind(runErr).String()
		entry.Error = runErr.Error()
	}
	if result != nil {
		entry.Identity = result.Identity
		entry.Status = result.Status
		entry.Duration = result.Duration()
		entry.Submitted = result.Submitted
		entry.Steps = append([]rotation.StepRecord(nil), result.Steps...)
		if !result.StartedAt.IsZero() {
			entry.Timestamp = result.StartedAt.UTC()
		}
	}
	// A passing probe leaves the run pending; record it as completed.
	if action == ActionProbe && runErr == nil {
		entry.Status = rotation.StatusCompleted
	}
	return entry
}

// Succeeded reports whether the run completed.
func (e *HistoryEntry) Succeeded() bool {
	return e.Status == rotation.StatusCompleted
}

// TargetStatus summarises the runs of one target
type TargetStatus struct {
	Target         string          `json:"target"`
	LastStatus     rotation.Status `json:"last_status"`
	LastRun        time.Time       `json:"last_run"`
	LastRotation   *time.Time      `json:"last_rotation,omitempty"`
	LastErrorKind  string          `json:"last_error_kind,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	RunCount       int             `json:"run_count"`
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
	AmbiguousCount int             `json:"ambiguous_count"`
}

// Record folds a history entry into the summary. Probe runs update the last
// run fields but never the rotation counters.
func (s *TargetStatus) Record(e *HistoryEntry) {
	s.Target = e.Target
	s.LastStatus = e.Status
	s.LastRun = e.Timestamp
	s.LastErrorKind = e.ErrorKind
	s.LastError = e.Error

	if e.Action != ActionRotate || e.DryRun {
		return
	}
	s.RunCount++
	switch e.Status {
	case rotation.StatusCompleted:
		s.SuccessCount++
		ts := e.Timestamp
		s.LastRotation = &ts
	case rotation.StatusAmbiguous:
		s.AmbiguousCount++
	default:
		s.FailureCount++
	}
}
