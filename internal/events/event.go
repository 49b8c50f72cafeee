// Package events records job lifecycle events of a run as JSON lines, one
// object per line, for consumption by CI log collectors.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type represents the type of a run event
type Type string

const (
	TypeJobStarted  Type = "job_started"
	TypeJobFinished Type = "job_finished"
	TypeJobSkipped  Type = "job_skipped"
)

// Event represents a single run event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	JobID     string    `json:"job_id"`

	// Fields below are set on job_finished and job_skipped only.
	State      string `json:"state,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Image      string `json:"image,omitempty"`
}

func newEvent(t Type, runID, jobID string, now time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: now.UTC(),
		RunID:     runID,
		JobID:     jobID,
	}
}
