package models

import (
	"fmt"
	"time"
)

// Phase names one ordered stage of the backup lifecycle.
type Phase string

// Lifecycle phases in execution order.
const (
	PhaseWarn    Phase = "warn"
	PhaseStop    Phase = "stop"
	PhaseArchive Phase = "archive"
	PhaseRetain  Phase = "retain"
	PhaseStart   Phase = "start"
)

// PhaseError reports which phase aborted the run.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// RunResult summarises one sequencer run.
type RunResult struct {
	Dev           bool
	ArtifactPath  string
	SizeBytes     int64
	Kept          int
	Removed       int
	StopConfirmed bool
	Restarted     bool
	FailedPhase   Phase
	// Degraded lists phases that failed without aborting the run.
	Degraded      []Phase
	StartTime     time.Time
	Duration      time.Duration
}

// IsDegraded reports whether phase failed without aborting the run.
func (r *RunResult) IsDegraded(phase Phase) bool {
	for _, p := range r.Degraded {
		if p == phase {
			return true
		}
	}
	return false
}
