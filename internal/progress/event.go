// Package progress defines the event stream emitted by job workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart      Stage = "JOB_START"
	StageJobCheckpoint Stage = "JOB_CHECKPOINT"
	StageJobDone       Stage = "JOB_DONE"
)

// Event captures a single job progress milestone.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Status carries the terminal job status for JOB_DONE events.
	Status string
	// Pages is the cumulative number of pages processed.
	Pages int
	// Items is the cumulative number of items kept.
	Items int
	// Dur captures job wall time for JOB_DONE events.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobCheckpoint:
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
